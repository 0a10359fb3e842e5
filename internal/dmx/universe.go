package dmx

import (
	"fmt"
	"sync"
)

// Universe wraps the 512 byte array with its dirty state. It is written by the
// send goroutine and may be read concurrently by observers.
type Universe struct {
	addr Address

	mu       sync.RWMutex
	channels [UniverseSize]byte
	dirty    [UniverseSize]bool
	isDirty  bool
}

func NewUniverse(addr Address) *Universe {
	return &Universe{addr: addr}
}

func (u *Universe) Address() Address { return u.addr }

// SetChannel writes a channel (index 0..511). The channel and the universe
// become dirty only when the value changes.
func (u *Universe) SetChannel(index int, value byte) error {
	if index < 0 || index >= UniverseSize {
		return fmt.Errorf("%w: %d", ErrChannelOutOfRange, index)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.channels[index] != value {
		u.channels[index] = value
		u.dirty[index] = true
		u.isDirty = true
	}
	return nil
}

// Channel returns a channel value (index 0..511); out of range reads return 0.
func (u *Universe) Channel(index int) byte {
	if index < 0 || index >= UniverseSize {
		return 0
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.channels[index]
}

// ChannelDirty reports whether a channel changed since the last snapshot.
func (u *Universe) ChannelDirty(index int) bool {
	if index < 0 || index >= UniverseSize {
		return false
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.dirty[index]
}

// SetAll writes the same value on every channel.
func (u *Universe) SetAll(value byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := range u.channels {
		if u.channels[i] != value {
			u.channels[i] = value
			u.dirty[i] = true
			u.isDirty = true
		}
	}
}

// Dirty reports whether anything changed since the last snapshot.
func (u *Universe) Dirty() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.isDirty
}

// MarkDirty forces the next snapshot to report a change.
func (u *Universe) MarkDirty() {
	u.mu.Lock()
	u.isDirty = true
	u.mu.Unlock()
}

// SnapshotForSend returns the buffer and whether it changed, then clears the
// dirty state. Change detection must go through here.
func (u *Universe) SnapshotForSend() ([UniverseSize]byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	buf, was := u.channels, u.isDirty
	u.isDirty = false
	u.dirty = [UniverseSize]bool{}
	return buf, was
}

// Channels returns a copy of the buffer without touching the dirty state.
func (u *Universe) Channels() [UniverseSize]byte {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.channels
}
