package dmx

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lightengine/internal/config"
	"lightengine/internal/logger"
	"lightengine/internal/metrics"
	"lightengine/internal/notify"
	"lightengine/internal/object"
)

// State of the send goroutine.
type State int32

const (
	Idle State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ByteOrder selects how a parameter is encoded on channels.
type ByteOrder int

const (
	Bit8 ByteOrder = iota // one channel
	MSB                   // two channels, coarse first
	LSB                   // two channels, fine first
)

func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(s) {
	case "", "bit8", "8bit":
		return Bit8, nil
	case "msb":
		return MSB, nil
	case "lsb":
		return LSB, nil
	}
	return 0, fmt.Errorf("unknown byte order %q", s)
}

// ObjectParams tells where an object's values go. A nil Address uses the
// interface default; StartChannel is 1-based.
type ObjectParams struct {
	Address      *Address
	StartChannel int
	ByteOrder    ByteOrder
}

type binding struct {
	obj    *object.Object
	params ObjectParams
}

// Interface owns the device, the universes and the send goroutine.
type Interface struct {
	log     *logger.Log
	metrics *metrics.Metrics

	// deviceLock guards the device pointer only, never a whole tick.
	deviceLock sync.Mutex
	device     Device

	uniMu         sync.RWMutex
	universes     []*Universe
	universeIDMap map[int]*Universe

	pendingMu sync.Mutex
	pending   map[int]*Universe

	bindMu   sync.RWMutex
	bindings []binding

	sendRate         atomic.Int64
	sendOnChangeOnly atomic.Bool
	defaultAddr      atomic.Int64
	channelTesting   atomic.Bool
	wasTesting       atomic.Bool
	flashValue       atomic.Uint64
	connected        atomic.Bool
	failing          atomic.Bool

	listenMu  sync.RWMutex
	listeners map[string]Listener
	notifier  *notify.Notifier[Event, EventKey]

	state atomic.Int32
	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

// NewInterface applies cfg; invalid values fall back to the defaults and are logged.
func NewInterface(log logger.Logger, m *metrics.Metrics, cfg config.DMXConf) *Interface {
	i := &Interface{
		log:           log.With(logger.Fields{"module": "dmx"}),
		metrics:       m,
		universeIDMap: map[int]*Universe{},
		pending:       map[int]*Universe{},
		listeners:     map[string]Listener{},
	}
	i.notifier = notify.New[Event, EventKey](eventKey, notify.DefaultQueueSize, m.EventDropped)

	i.sendRate.Store(40)
	if err := i.SetSendRate(cfg.SendRate); err != nil {
		i.log.Warnf("keeping send rate 40: %v", err)
	}
	i.sendOnChangeOnly.Store(cfg.SendOnChangeOnly)
	if err := i.SetDefaultAddress(cfg.DefaultNet, cfg.DefaultSubnet, cfg.DefaultUniverse); err != nil {
		i.log.Warnf("keeping default address 0.0.0: %v", err)
	}
	if err := i.SetChannelTesting(cfg.ChannelTestingMode, cfg.ChannelTestingFlashValue); err != nil {
		i.log.Warnf("channel testing disabled: %v", err)
	}
	return i
}

// SetSendRate sets the number of ticks per second (1..1000).
func (i *Interface) SetSendRate(rate int) error {
	if rate < 1 || rate > 1000 {
		return fmt.Errorf("send rate %d out of range", rate)
	}
	i.sendRate.Store(int64(rate))
	return nil
}

func (i *Interface) SendRate() int { return int(i.sendRate.Load()) }

func (i *Interface) period() time.Duration {
	return time.Second / time.Duration(i.sendRate.Load())
}

func (i *Interface) SetSendOnChangeOnly(v bool) { i.sendOnChangeOnly.Store(v) }

func (i *Interface) SendOnChangeOnly() bool { return i.sendOnChangeOnly.Load() }

func (i *Interface) SetDefaultAddress(net, subnet, universe int) error {
	a, err := NewAddress(net, subnet, universe)
	if err != nil {
		return err
	}
	i.defaultAddr.Store(int64(a.Key()))
	return nil
}

func (i *Interface) DefaultAddress() Address {
	return AddressFromKey(int(i.defaultAddr.Load()))
}

// SetChannelTesting forces flash (0..1) on every channel when enabled.
func (i *Interface) SetChannelTesting(enabled bool, flash float64) error {
	if flash < 0 || flash > 1 || math.IsNaN(flash) {
		return fmt.Errorf("flash value %v out of [0,1]", flash)
	}
	i.flashValue.Store(math.Float64bits(flash))
	i.channelTesting.Store(enabled)
	return nil
}

func (i *Interface) ChannelTesting() (bool, float64) {
	return i.channelTesting.Load(), math.Float64frombits(i.flashValue.Load())
}

func (i *Interface) Connected() bool { return i.connected.Load() }

func (i *Interface) State() State { return State(i.state.Load()) }

// RegisterObject binds an object to a channel range, replacing a previous
// binding of the same object.
func (i *Interface) RegisterObject(o *object.Object, p ObjectParams) error {
	if o == nil {
		return errors.New("nil object")
	}
	if p.StartChannel == 0 {
		p.StartChannel = 1
	}
	if p.StartChannel < 1 || p.StartChannel > UniverseSize {
		return fmt.Errorf("object %d: %w", o.ID, ErrInvalidStartChannel)
	}
	if p.Address != nil && !p.Address.Valid() {
		return fmt.Errorf("object %d: %w: %s", o.ID, ErrInvalidAddress, p.Address)
	}
	if last := p.StartChannel - 1 + channelCount(o, p.ByteOrder); last > UniverseSize {
		return fmt.Errorf("object %d: %w: channels %d..%d", o.ID, ErrObjectTooWide, p.StartChannel, last)
	}

	i.bindMu.Lock()
	defer i.bindMu.Unlock()
	for k, b := range i.bindings {
		if b.obj.ID == o.ID {
			i.bindings[k] = binding{obj: o, params: p}
			return nil
		}
	}
	i.bindings = append(i.bindings, binding{obj: o, params: p})
	return nil
}

// channelCount is the number of channels the object occupies.
func channelCount(o *object.Object, order ByteOrder) int {
	n := 0
	for _, c := range o.Components {
		n += len(c.Parameters)
	}
	if order == MSB || order == LSB {
		n *= 2
	}
	return n
}

func (i *Interface) UnregisterObject(id int) bool {
	i.bindMu.Lock()
	defer i.bindMu.Unlock()
	for k, b := range i.bindings {
		if b.obj.ID == id {
			i.bindings = append(i.bindings[:k:k], i.bindings[k+1:]...)
			return true
		}
	}
	return false
}

// Objects returns the registered objects in registration order.
func (i *Interface) Objects() []*object.Object {
	i.bindMu.RLock()
	defer i.bindMu.RUnlock()
	out := make([]*object.Object, len(i.bindings))
	for k, b := range i.bindings {
		out[k] = b.obj
	}
	return out
}

func (i *Interface) snapshotBindings() []binding {
	i.bindMu.RLock()
	defer i.bindMu.RUnlock()
	return append([]binding(nil), i.bindings...)
}

// GetUniverse returns the universe at the address. With createIfNotExist it is
// created on first use; otherwise unknown addresses return nil. Invalid
// addresses always return nil.
func (i *Interface) GetUniverse(net, subnet, universe int, createIfNotExist bool) *Universe {
	a := Address{Net: net, Subnet: subnet, Universe: universe}
	if !a.Valid() {
		return nil
	}
	key := a.Key()

	i.uniMu.RLock()
	u, ok := i.universeIDMap[key]
	i.uniMu.RUnlock()
	if ok || !createIfNotExist {
		return u
	}

	i.uniMu.Lock()
	defer i.uniMu.Unlock()
	if u, ok := i.universeIDMap[key]; ok {
		return u
	}
	u = NewUniverse(a)
	// a new universe goes out once even if every channel stays at zero
	u.MarkDirty()
	i.universeIDMap[key] = u
	idx := sort.Search(len(i.universes), func(k int) bool { return i.universes[k].addr.Key() > key })
	i.universes = append(i.universes, nil)
	copy(i.universes[idx+1:], i.universes[idx:])
	i.universes[idx] = u
	return u
}

// Universes returns a snapshot ordered by address. Universes are only ever
// added while the interface runs.
func (i *Interface) Universes() []*Universe {
	i.uniMu.RLock()
	defer i.uniMu.RUnlock()
	return append([]*Universe(nil), i.universes...)
}

// ClearUniverses drops every universe. It is refused while running.
func (i *Interface) ClearUniverses() error {
	if i.State() != Idle {
		return ErrInterfaceRunning
	}
	i.uniMu.Lock()
	i.universes = nil
	i.universeIDMap = map[int]*Universe{}
	i.uniMu.Unlock()
	i.pendingMu.Lock()
	i.pending = map[int]*Universe{}
	i.pendingMu.Unlock()
	return nil
}

// SetDMXValue writes values from startChannel (1..512) on. Invalid addresses
// and start channels are logged and ignored; values are clamped to 0..255 and
// a run past channel 512 is truncated.
func (i *Interface) SetDMXValue(net, subnet, universe, startChannel int, values []int) error {
	a, err := NewAddress(net, subnet, universe)
	if err != nil {
		i.log.Warnf("setDMXValue ignored: %v", err)
		return err
	}
	if startChannel < 1 || startChannel > UniverseSize {
		err := fmt.Errorf("%w: got %d", ErrInvalidStartChannel, startChannel)
		i.log.Warnf("setDMXValue ignored on %s: %v", a, err)
		return err
	}
	if len(values) == 0 {
		return nil
	}

	u := i.GetUniverse(a.Net, a.Subnet, a.Universe, true)
	n := len(values)
	if over := startChannel - 1 + n - UniverseSize; over > 0 {
		i.log.Warnf("setDMXValue on %s: %d values past channel 512 dropped", a, over)
		n -= over
	}
	for k := 0; k < n; k++ {
		// index is in range by construction
		_ = u.SetChannel(startChannel-1+k, clampByte(values[k]))
	}
	i.markPending(u)
	return nil
}

func clampByte(v int) byte {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return byte(v)
}

func (i *Interface) markPending(u *Universe) {
	i.pendingMu.Lock()
	i.pending[u.addr.Key()] = u
	i.pendingMu.Unlock()
}

func (i *Interface) takePending() []*Universe {
	i.pendingMu.Lock()
	p := i.pending
	i.pending = make(map[int]*Universe, len(p))
	i.pendingMu.Unlock()

	out := make([]*Universe, 0, len(p))
	for _, u := range p {
		out = append(out, u)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].addr.Key() < out[b].addr.Key() })
	return out
}

// Device returns the current device, or nil.
func (i *Interface) Device() Device {
	i.deviceLock.Lock()
	defer i.deviceLock.Unlock()
	return i.device
}

// SetDevice swaps the device; safe while the send goroutine runs. A tick uses
// either the old or the new device, never both. The old device is closed and
// every universe is resent to the new one.
func (i *Interface) SetDevice(d Device) {
	i.deviceLock.Lock()
	old := i.device
	if old == d {
		i.deviceLock.Unlock()
		return
	}
	if old != nil {
		old.SetListener(nil)
	}
	i.device = d
	if d != nil {
		d.SetListener(i)
	}
	i.deviceLock.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			i.log.Warnf("closing device %s: %v", old.Name(), err)
		}
	}
	for _, u := range i.Universes() {
		u.MarkDirty()
		i.markPending(u)
	}
	i.failing.Store(false)

	if d == nil {
		i.log.Info("DMX device detached")
	} else {
		i.log.Infof("DMX device set to %s", d.Name())
	}
	i.updateConnected(d)
}

// DMXDeviceSetupChanged implements DeviceListener.
func (i *Interface) DMXDeviceSetupChanged(d Device) {
	if d != i.Device() {
		return
	}
	i.updateConnected(d)
}

func (i *Interface) updateConnected(d Device) {
	connected := d != nil && d.Connected()
	prev := i.connected.Swap(connected)
	i.metrics.SetDeviceConnected(connected)
	if prev != connected {
		i.log.Infof("DMX device connected: %v", connected)
	}
}

// DMXDataInChanged implements DeviceListener. It runs on the device goroutine:
// sync listeners are called here, async ones get an event.
func (i *Interface) DMXDataInChanged(d Device, addr Address, values []byte, source string) {
	if d != i.Device() {
		return
	}
	vals := append([]byte(nil), values...)
	i.metrics.DataIn()
	for _, l := range i.listenerSnapshot() {
		l.DMXDataInChanged(addr, vals, source)
	}
	i.notifier.Notify(Event{Type: DataInChanged, Address: addr, Values: vals, Source: source})
}

// AddListener registers a synchronous listener and returns its id.
func (i *Interface) AddListener(l Listener) string {
	id := uuid.NewString()
	i.listenMu.Lock()
	i.listeners[id] = l
	i.listenMu.Unlock()
	return id
}

func (i *Interface) RemoveListener(id string) {
	i.listenMu.Lock()
	delete(i.listeners, id)
	i.listenMu.Unlock()
}

func (i *Interface) listenerSnapshot() []Listener {
	i.listenMu.RLock()
	defer i.listenMu.RUnlock()
	out := make([]Listener, 0, len(i.listeners))
	for _, l := range i.listeners {
		out = append(out, l)
	}
	return out
}

// AddAsyncListener delivers every event on a separate goroutine.
func (i *Interface) AddAsyncListener(fn func(Event)) notify.Subscription {
	return i.notifier.Add(fn)
}

// AddAsyncCoalescedListener delivers the latest event per type and universe.
func (i *Interface) AddAsyncCoalescedListener(fn func(Event)) notify.Subscription {
	return i.notifier.AddCoalesced(fn)
}

func (i *Interface) RemoveAsyncListener(sub notify.Subscription) {
	i.notifier.Remove(sub)
}

// Start launches the send goroutine. Starting a running interface is a no-op.
func (i *Interface) Start(ctx context.Context) {
	i.runMu.Lock()
	defer i.runMu.Unlock()
	if i.stop != nil {
		return
	}
	i.stop = make(chan struct{})
	i.done = make(chan struct{})
	i.state.Store(int32(Running))
	go i.run(ctx, i.stop, i.done)
	i.log.Infof("send loop started at %d Hz", i.SendRate())
}

// Stop asks the send goroutine to exit at its next wake-up and waits for it.
// A transmission in progress completes. Stopping twice is a no-op.
func (i *Interface) Stop() {
	i.runMu.Lock()
	defer i.runMu.Unlock()
	if i.stop == nil {
		return
	}
	i.state.Store(int32(Stopping))
	close(i.stop)
	<-i.done
	i.stop, i.done = nil, nil
	i.state.Store(int32(Idle))
	i.log.Info("send loop stopped")
}

// Run starts the interface and stops it when ctx is done.
func (i *Interface) Run(ctx context.Context) error {
	i.Start(ctx)
	<-ctx.Done()
	i.Stop()
	return nil
}

// Close stops the send goroutine, then releases the device and the listeners.
func (i *Interface) Close() {
	i.Stop()
	i.SetDevice(nil)
	i.notifier.Close()
}

func (i *Interface) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer i.state.CompareAndSwap(int32(Running), int32(Idle))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-timer.C:
		}
		i.tick()
		timer.Reset(i.period())
	}
}

// tick writes every registered object (or the test pattern), then snapshots
// and sends the universes touched. Without a device nothing happens.
func (i *Interface) tick() {
	start := time.Now()
	defer func() { i.metrics.SendTick(time.Since(start)) }()

	dev := i.Device()
	if dev == nil {
		return
	}

	testing, _ := i.ChannelTesting()
	if testing {
		i.writeChannelTest()
	} else {
		if i.wasTesting.Load() {
			// сбрасываем тестовый уровень на несвязанных каналах
			for _, u := range i.Universes() {
				u.SetAll(0)
				i.markPending(u)
			}
		}
		for _, b := range i.snapshotBindings() {
			i.sendValuesForObject(b)
		}
	}
	i.wasTesting.Store(testing)
	i.finishSendValues(dev)
}

func (i *Interface) writeChannelTest() {
	_, flash := i.ChannelTesting()
	v := byte(math.Round(flash * 255))
	d := i.DefaultAddress()
	i.GetUniverse(d.Net, d.Subnet, d.Universe, true)
	for _, u := range i.Universes() {
		u.SetAll(v)
		i.markPending(u)
	}
}

// sendValuesForObject maps the object's published values onto its channels.
func (i *Interface) sendValuesForObject(b binding) {
	addr := i.DefaultAddress()
	if b.params.Address != nil {
		addr = *b.params.Address
	}

	resolved := b.obj.Resolved()
	values := make([]int, 0, 8)
	for _, c := range b.obj.Components {
		for _, p := range c.Parameters {
			v, ok := resolved[p]
			if !ok {
				v = p.Base
			}
			values = append(values, encode(v, b.params.ByteOrder)...)
		}
	}
	_ = i.SetDMXValue(addr.Net, addr.Subnet, addr.Universe, b.params.StartChannel, values)
}

// encode turns a normalized value into channel bytes.
func encode(v float64, order ByteOrder) []int {
	if math.IsNaN(v) || v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	switch order {
	case MSB, LSB:
		x := int(math.Round(v * 65535))
		if order == MSB {
			return []int{x >> 8, x & 0xff}
		}
		return []int{x & 0xff, x >> 8}
	}
	return []int{int(math.Round(v * 255))}
}

func (i *Interface) finishSendValues(dev Device) {
	changeOnly := i.SendOnChangeOnly()
	for _, u := range i.takePending() {
		data, dirty := u.SnapshotForSend()
		if changeOnly && !dirty {
			i.metrics.UniverseSkipped()
			continue
		}

		if err := i.send(dev, u.addr, data); err != nil {
			u.MarkDirty()
			if dev != i.Device() {
				// swapped out mid-tick; the new device gets everything on its first tick
				i.markPending(u)
				i.log.Debugf("universe %s not sent, %s was replaced: %v", u.addr, dev.Name(), err)
				continue
			}
			i.metrics.DeviceError(dev.Name())
			if !i.failing.Swap(true) {
				i.log.Warnf("sending universe %s on %s failed: %v", u.addr, dev.Name(), err)
			}
			i.notifier.Notify(Event{Type: DeviceError, Address: u.addr, Universe: u, Source: dev.Name(), Err: err})
			continue
		}
		if i.failing.Swap(false) {
			i.log.Infof("device %s is sending again", dev.Name())
		}

		i.metrics.UniverseSent(u.addr.String())
		for _, l := range i.listenerSnapshot() {
			l.DMXUniverseSent(u)
		}
		i.notifier.Notify(Event{Type: UniverseSent, Address: u.addr, Universe: u, Values: data[:], Source: dev.Name()})
	}
}

// send turns a panicking device into a transport error.
func (i *Interface) send(dev Device, addr Address, data [UniverseSize]byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: send panicked: %v", dev.Name(), r)
		}
	}()
	return dev.Send(addr, data)
}
