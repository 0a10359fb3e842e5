package dmx

import "fmt"

// EventType is the kind of an Event.
type EventType int

const (
	DataInChanged EventType = iota
	UniverseSent
	DeviceError
)

func (t EventType) String() string {
	switch t {
	case DataInChanged:
		return "data-in-changed"
	case UniverseSent:
		return "universe-sent"
	case DeviceError:
		return "device-error"
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event is delivered to async listeners. Universe is set for UniverseSent;
// Values holds the inbound or sent channel values.
type Event struct {
	Type     EventType
	Address  Address
	Universe *Universe
	Values   []byte
	Source   string
	Err      error
}

// EventKey is the coalescing key: one pending event per type and universe.
type EventKey struct {
	Type     EventType
	Universe int
}

func eventKey(e Event) EventKey {
	return EventKey{Type: e.Type, Universe: e.Address.Key()}
}

// Listener is called synchronously on the goroutine producing the event: the
// device goroutine for inbound data, the send goroutine for sent universes.
// Implementations must return quickly.
type Listener interface {
	DMXDataInChanged(addr Address, values []byte, source string)
	DMXUniverseSent(u *Universe)
}
