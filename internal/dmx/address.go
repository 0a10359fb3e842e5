package dmx

import (
	"fmt"
)

const (
	// UniverseSize is the number of channels of a universe.
	UniverseSize = 512

	MaxNet      = 127
	MaxSubnet   = 15
	MaxUniverse = 15
)

// Address identifies a universe by its (net, subnet, universe) triple.
type Address struct {
	Net      int `json:"net"`
	Subnet   int `json:"subnet"`
	Universe int `json:"universe"`
}

// NewAddress validates the triple.
func NewAddress(net, subnet, universe int) (Address, error) {
	a := Address{Net: net, Subnet: subnet, Universe: universe}
	if !a.Valid() {
		return Address{}, fmt.Errorf("%w: %s", ErrInvalidAddress, a)
	}
	return a, nil
}

func (a Address) Valid() bool {
	return a.Net >= 0 && a.Net <= MaxNet &&
		a.Subnet >= 0 && a.Subnet <= MaxSubnet &&
		a.Universe >= 0 && a.Universe <= MaxUniverse
}

// Key is the 15-bit port address: net in the high 7 bits, then subnet and universe nibbles.
func (a Address) Key() int {
	return a.Net<<8 | a.Subnet<<4 | a.Universe
}

// SubUni packs subnet and universe the way Art-Net does.
func (a Address) SubUni() uint8 {
	return uint8(a.Subnet<<4 | a.Universe)
}

func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d", a.Net, a.Subnet, a.Universe)
}

// AddressFromKey is the inverse of Key.
func AddressFromKey(key int) Address {
	return Address{Net: key >> 8 & 0x7f, Subnet: key >> 4 & 0x0f, Universe: key & 0x0f}
}
