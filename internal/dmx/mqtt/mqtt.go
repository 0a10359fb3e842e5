package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"lightengine/internal/config"
	"lightengine/internal/dmx"
	"lightengine/internal/logger"
)

const (
	connectWait    = 5 * time.Second
	publishTimeout = time.Second
)

var (
	ErrNotConnected   = errors.New("mqtt: not connected")
	ErrPublishTimeout = errors.New("mqtt: publish timed out")
	errBadTopic       = errors.New("mqtt: unexpected topic")
)

// DMXCommand sets one channel (0-511) to a value (0-255).
type DMXCommand struct {
	Channel uint16 // Channel is the channel a command can talk to (0-511).
	Value   uint8  // Value is the value a DMX channel can represent (0-255).
}

type Payload []DMXCommand

// client is the part of paho.Client the device uses.
type client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Disconnect(quiesce uint)
}

// Device publishes universes to an MQTT broker and reads inbound DMX from it.
//
// Topics:
//
//	<prefix>/out/<net>/<subnet>/<universe> - changed channels, full frame first;
//	<prefix>/in/<net>/<subnet>/<universe>  - channels written by other clients.
type Device struct {
	log    *logger.Log
	client client
	prefix string
	qos    byte

	mu       sync.Mutex
	listener dmx.DeviceListener
	last     map[int][dmx.UniverseSize]byte
	in       map[int]*[dmx.UniverseSize]byte
	closed   bool
}

// New connects to the broker. If it is not reachable within a few seconds the
// device is returned anyway and keeps reconnecting in the background.
func New(ctx context.Context, log logger.Logger, cfg config.MQTTConf) (*Device, error) {
	l := log.With(logger.Fields{"module": "mqtt"})
	if log.GetLevel() == "debug" {
		paho.ERROR = stdlog.New(l.WriterLevel(logrus.ErrorLevel), "", 0)
		paho.CRITICAL = stdlog.New(l.WriterLevel(logrus.ErrorLevel), "", 0)
		paho.WARN = stdlog.New(l.WriterLevel(logrus.WarnLevel), "", 0)
	}

	d := newDevice(l, cfg)
	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%s", cfg.Host, cfg.Port)).
		SetUsername(cfg.User).
		SetPassword(cfg.Password).
		SetDefaultPublishHandler(d.messageHandler).
		SetOnConnectHandler(d.connectHandler).
		SetConnectionLostHandler(d.connectLostHandler).
		SetClientID(cfg.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	c := paho.NewClient(opts)
	d.client = c

	token := c.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("mqtt connect: %w", err)
		}
	case <-time.After(connectWait):
		l.Warnf("broker %s:%s not reachable yet, retrying in background", cfg.Host, cfg.Port)
	case <-ctx.Done():
		c.Disconnect(0)
		return nil, ctx.Err()
	}

	l.Infof("Status: %v", c.IsConnected())
	return d, nil
}

func newDevice(log *logger.Log, cfg config.MQTTConf) *Device {
	prefix := strings.Trim(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "dmx"
	}
	return &Device{
		log:    log,
		prefix: prefix,
		qos:    cfg.Qos,
		last:   map[int][dmx.UniverseSize]byte{},
		in:     map[int]*[dmx.UniverseSize]byte{},
	}
}

func (d *Device) Name() string { return "mqtt" }

// Send publishes the channels that differ from the last successful publish
// of the universe. Nothing is published when nothing differs.
func (d *Device) Send(addr dmx.Address, data [dmx.UniverseSize]byte) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("mqtt: %w", dmx.ErrDeviceClosed)
	}
	prev, seen := d.last[addr.Key()]
	d.mu.Unlock()

	cmds := diff(prev, data, !seen)
	if len(cmds) == 0 {
		return nil
	}
	if !d.client.IsConnected() {
		return ErrNotConnected
	}

	msg, err := json.Marshal(cmds)
	if err != nil {
		return fmt.Errorf("mqtt: encode payload: %w", err)
	}
	token := d.client.Publish(d.outTopic(addr), d.qos, false, msg)
	if !token.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", d.outTopic(addr), err)
	}

	d.mu.Lock()
	d.last[addr.Key()] = data
	d.mu.Unlock()
	return nil
}

func (d *Device) SetListener(l dmx.DeviceListener) {
	d.mu.Lock()
	d.listener = l
	d.mu.Unlock()
}

func (d *Device) Connected() bool {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	return !closed && d.client != nil && d.client.IsConnected()
}

func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	if d.client != nil && d.client.IsConnected() {
		d.client.Disconnect(500)
	}
	return nil
}

func (d *Device) outTopic(a dmx.Address) string {
	return fmt.Sprintf("%s/out/%d/%d/%d", d.prefix, a.Net, a.Subnet, a.Universe)
}

func (d *Device) inFilter() string {
	return d.prefix + "/in/+/+/+"
}

func (d *Device) currentListener() dmx.DeviceListener {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listener
}

func (d *Device) connectHandler(_ paho.Client) {
	d.log.Info("client connected to server")

	// подписка повторяется после каждого переподключения
	topic := d.inFilter()
	token := d.client.Subscribe(topic, d.qos, d.messageHandler)
	go func() {
		if !token.WaitTimeout(connectWait) {
			d.log.Warnf("topic %s subscription timed out", topic)
			return
		}
		if err := token.Error(); err != nil {
			d.log.Errorf("topic %s subscription error. %v", topic, err)
			return
		}
		d.log.Debugf("topic %s subscribed", topic)
	}()

	if l := d.currentListener(); l != nil {
		l.DMXDeviceSetupChanged(d)
	}
}

func (d *Device) connectLostHandler(_ paho.Client, err error) {
	d.log.Errorf("server connect lost: %v", err)
	if l := d.currentListener(); l != nil {
		l.DMXDeviceSetupChanged(d)
	}
}

// messageHandler applies inbound commands to the universe buffer and reports
// the whole universe.
func (d *Device) messageHandler(_ paho.Client, msg paho.Message) {
	addr, err := parseTopic(d.prefix, msg.Topic())
	if err != nil {
		d.log.Warnf("message ignored: %v", err)
		return
	}

	var data Payload
	if err := json.Unmarshal(msg.Payload(), &data); err != nil {
		d.log.Errorf("message could not be parsed (%s): %v", msg.Payload(), err)
		return
	}

	d.mu.Lock()
	buf, ok := d.in[addr.Key()]
	if !ok {
		buf = &[dmx.UniverseSize]byte{}
		d.in[addr.Key()] = buf
	}
	for _, c := range data {
		if int(c.Channel) >= dmx.UniverseSize {
			d.log.Warnf("channel %d out of range on %s", c.Channel, addr)
			continue
		}
		buf[c.Channel] = c.Value
	}
	values := append([]byte(nil), buf[:]...)
	l := d.listener
	d.mu.Unlock()

	d.log.Debugf("message payload parsed from %s: %v", msg.Topic(), data)
	if l != nil {
		l.DMXDataInChanged(d, addr, values, msg.Topic())
	}
}

// parseTopic reads the address from <prefix>/in/<net>/<subnet>/<universe>.
func parseTopic(prefix, topic string) (dmx.Address, error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/in/")
	if !ok {
		return dmx.Address{}, fmt.Errorf("%w: %s", errBadTopic, topic)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return dmx.Address{}, fmt.Errorf("%w: %s", errBadTopic, topic)
	}
	var n [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return dmx.Address{}, fmt.Errorf("%w: %s", errBadTopic, topic)
		}
		n[i] = v
	}
	return dmx.NewAddress(n[0], n[1], n[2])
}

// diff lists the channels of next that differ from prev, or all of them.
func diff(prev, next [dmx.UniverseSize]byte, full bool) Payload {
	var out Payload
	for i := range next {
		if full || prev[i] != next[i] {
			out = append(out, DMXCommand{Channel: uint16(i), Value: next[i]})
		}
	}
	return out
}
