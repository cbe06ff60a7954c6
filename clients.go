package fanpanel

import (
	"errors"
	"io"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrDeviceNotRegistered = errors.New("device not connected")
	ErrUpstream            = errors.New("failed to reach device")
)

// Registry keeps track of the event subscribers connected to the panel.
type Registry interface {
	Register(client Client) error
	Unregister(client Client) error
}

type Client interface {
	io.Writer
	ID() string
}

// Publisher receives every device and speed event the panel produces.
type Publisher interface {
	Publish(event *Event) error
}

// Publishers fans an event out to several publishers. The first error is
// returned but every publisher is still called.
type Publishers []Publisher

func (p Publishers) Publish(event *Event) error {
	var first error
	for _, pub := range p {
		if pub == nil {
			continue
		}
		if err := pub.Publish(event); err != nil && first == nil {
			first = err
		}
	}

	return first
}

// DeviceRegistry holds the address of the controlled device.
type DeviceRegistry interface {
	Address() (string, error)
	Register(ip string) (string, error)
	SetSpeed(speed Speed)
	Status() Status
}
