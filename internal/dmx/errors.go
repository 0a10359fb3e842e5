package dmx

import "errors"

var (
	ErrInvalidAddress      = errors.New("invalid DMX address")
	ErrChannelOutOfRange   = errors.New("DMX channel out of range")
	ErrInvalidStartChannel = errors.New("start channel must be between 1 and 512")
	ErrObjectTooWide       = errors.New("object channels run past channel 512")
	ErrNoDevice            = errors.New("no DMX device")
	ErrDeviceClosed        = errors.New("DMX device closed")
	ErrInterfaceRunning    = errors.New("DMX interface is running")
)
