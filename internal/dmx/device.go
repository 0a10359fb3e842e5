package dmx

import (
	"fmt"
	"sync"
)

// Device is the transport the interface writes universes to. Send is called
// from the send goroutine only. Inbound data and setup changes are reported to
// the listener from the device's own goroutines.
type Device interface {
	Name() string
	Send(addr Address, data [UniverseSize]byte) error
	// SetListener replaces the listener; nil detaches it.
	SetListener(l DeviceListener)
	Connected() bool
	Close() error
}

// DeviceListener receives what a device reports.
type DeviceListener interface {
	DMXDataInChanged(d Device, addr Address, values []byte, source string)
	DMXDeviceSetupChanged(d Device)
}

// Frame is one transmission recorded by a MemoryDevice.
type Frame struct {
	Address Address
	Data    [UniverseSize]byte
}

// MemoryDevice keeps every frame in memory. It backs dry runs and tests.
type MemoryDevice struct {
	name string

	mu       sync.Mutex
	listener DeviceListener
	frames   []Frame
	failWith error
	closed   bool
}

func NewMemoryDevice(name string) *MemoryDevice {
	return &MemoryDevice{name: name}
}

func (d *MemoryDevice) Name() string { return d.name }

func (d *MemoryDevice) Send(addr Address, data [UniverseSize]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("%s: %w", d.name, ErrDeviceClosed)
	}
	if d.failWith != nil {
		return d.failWith
	}
	d.frames = append(d.frames, Frame{Address: addr, Data: data})
	return nil
}

func (d *MemoryDevice) SetListener(l DeviceListener) {
	d.mu.Lock()
	d.listener = l
	d.mu.Unlock()
}

func (d *MemoryDevice) Listener() DeviceListener {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listener
}

func (d *MemoryDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed
}

func (d *MemoryDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Fail makes every following Send return err; nil heals the device.
func (d *MemoryDevice) Fail(err error) {
	d.mu.Lock()
	d.failWith = err
	d.mu.Unlock()
}

// Frames returns the recorded transmissions.
func (d *MemoryDevice) Frames() []Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Frame(nil), d.frames...)
}

// Inject reports inbound data as a physical input would.
func (d *MemoryDevice) Inject(addr Address, values []byte, source string) {
	if l := d.Listener(); l != nil {
		l.DMXDataInChanged(d, addr, values, source)
	}
}
