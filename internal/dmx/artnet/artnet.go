package artnet

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Haba1234/go-artnet"

	"lightengine/internal/config"
	"lightengine/internal/dmx"
	"lightengine/internal/logger"
)

// nodePollInterval задаёт период опроса видимых узлов.
const nodePollInterval = 30 * time.Second

// controller is the part of artnet.Controller the device uses.
type controller interface {
	SendDMXToAddress(data [512]byte, address artnet.Address)
	Stop()
}

// Device is transport for the ArtNet protocol (DMX over UDP/IP).
type Device struct {
	log    *logger.Log
	sender controller
	nodes  func() []*artnet.ControlledNode

	mu        sync.Mutex
	listener  dmx.DeviceListener
	nodeCount int
	closed    bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New finds the Art-Net interface inside cfg.AddressRange and starts a
// controller on it.
func New(log logger.Logger, cfg config.ArtNetConf) (*Device, error) {
	ip, err := FindArtNetIP(cfg.AddressRange)
	if err != nil {
		return nil, fmt.Errorf("failed to find the art-net IP: %w", err)
	}

	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve hostname: %w", err)
	}
	host = strings.ToLower(strings.Split(host, ".")[0])

	l := log.With(logger.Fields{"module": "art-net"})
	l.Infof("Using ArtNet IP %s and hostname %s", ip.String(), host)

	maxFPS := cfg.MaxFPS
	if maxFPS <= 0 {
		maxFPS = 40
	}
	c := artnet.NewController(host, ip, artnet.NewDefaultLogger("info"), artnet.MaxFPS(maxFPS))
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("failed to start Controller: %w", err)
	}

	d := newDevice(l, c, func() []*artnet.ControlledNode { return c.Nodes })
	d.wg.Add(1)
	go d.watchNodes(nodePollInterval)
	return d, nil
}

func newDevice(log *logger.Log, c controller, nodes func() []*artnet.ControlledNode) *Device {
	return &Device{
		log:    log,
		sender: c,
		nodes:  nodes,
		stop:   make(chan struct{}),
	}
}

func (d *Device) Name() string { return "artnet" }

// Send hands the universe to the controller, which paces the output itself.
// The controller only logs a missing node, so only a closed device fails.
func (d *Device) Send(addr dmx.Address, data [dmx.UniverseSize]byte) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return fmt.Errorf("artnet: %w", dmx.ErrDeviceClosed)
	}
	d.sender.SendDMXToAddress(data, toAddress(addr))
	return nil
}

func (d *Device) SetListener(l dmx.DeviceListener) {
	d.mu.Lock()
	d.listener = l
	d.mu.Unlock()
}

// Connected reports whether the controller runs and sees at least one node.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed && d.nodeCount > 0
}

func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	close(d.stop)
	d.wg.Wait()
	d.sender.Stop()
	return nil
}

func (d *Device) watchNodes(every time.Duration) {
	defer d.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		d.pollNodes()
		select {
		case <-d.stop:
			return
		case <-t.C:
		}
	}
}

// pollNodes logs the visible nodes and reports a setup change when their
// number changes.
func (d *Device) pollNodes() {
	nodes := d.nodes()

	d.mu.Lock()
	changed := len(nodes) != d.nodeCount
	d.nodeCount = len(nodes)
	l := d.listener
	d.mu.Unlock()

	if !changed {
		return
	}
	descr := make([]string, 0, len(nodes))
	for _, n := range nodes {
		descr = append(descr, NodeToString(n))
	}
	d.log.Infof("Currently %d devices are registered: %v", len(nodes), descr)
	if l != nil {
		l.DMXDeviceSetupChanged(d)
	}
}

// toAddress converts a universe address to the art-net one:
// Net - старший байт, SubUni - подсеть и вселенная.
func toAddress(a dmx.Address) artnet.Address {
	return artnet.Address{
		Net:    uint8(a.Net),
		SubUni: a.SubUni(),
	}
}

// NodeToString returns a string representation of the given Node.
func NodeToString(n *artnet.ControlledNode) string {
	var inputs, outputs []string
	for _, p := range n.Node.InputPorts {
		inputs = append(inputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
	}
	for _, p := range n.Node.OutputPorts {
		outputs = append(outputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
	}

	return fmt.Sprintf(
		"IP=%s name=%q type=%q manufacturer=%q desc=%q inputs=%q outputs=%q",
		n.UDPAddress.String(), n.Node.Name, n.Node.Type,
		n.Node.Manufacturer, n.Node.Description,
		strings.Join(inputs, "; "), strings.Join(outputs, "; "),
	)
}

var errNoInterface = errors.New("no interface found")

// FindArtNetIP finds the interface with an IPv4 address inside addressRange.
func FindArtNetIP(addressRange string) (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("error getting ips: %w", err)
	}
	return matchIP(addressRange, addrs)
}

func matchIP(addressRange string, addrs []net.Addr) (net.IP, error) {
	_, cidrNet, err := net.ParseCIDR(addressRange)
	if err != nil {
		return nil, fmt.Errorf("address range %q: %w", addressRange, err)
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.To4() == nil {
			continue
		}
		if cidrNet.Contains(ipNet.IP) {
			return ipNet.IP, nil
		}
	}
	return nil, fmt.Errorf("%w in %s", errNoInterface, addressRange)
}
