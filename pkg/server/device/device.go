package device

import (
	"strings"
	"sync"

	"github.com/IpsoVeritas/fanpanel"
	"github.com/pkg/errors"
)

// Registry holds the address of the single device the panel controls and
// the last speed it accepted. Writes are serialized and the last one wins.
type Registry struct {
	address string
	speed   fanpanel.Speed
	lock    *sync.RWMutex
}

// New returns a Registry. An empty address leaves the device unregistered.
func New(address string) *Registry {
	return &Registry{
		address: normalize(address),
		lock:    &sync.RWMutex{},
	}
}

func (r *Registry) Address() (string, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if r.address == "" {
		return "", fanpanel.ErrDeviceNotRegistered
	}

	return r.address, nil
}

// Register stores the address reported by the device and returns it in its
// normalized form.
func (r *Registry) Register(ip string) (string, error) {
	address := normalize(ip)
	if address == "" {
		return "", errors.Wrap(fanpanel.ErrInvalidInput, "ip not provided")
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	r.address = address

	return address, nil
}

func (r *Registry) SetSpeed(speed fanpanel.Speed) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.speed = speed
}

func (r *Registry) Status() fanpanel.Status {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return fanpanel.Status{
		Connected: r.address != "",
		Address:   r.address,
		Speed:     r.speed,
	}
}

func normalize(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}

	if !strings.Contains(ip, "://") {
		ip = "http://" + ip
	}

	return strings.TrimRight(ip, "/")
}
