package clients

import (
	"encoding/json"
	"sync"

	"github.com/IpsoVeritas/fanpanel"
	"github.com/IpsoVeritas/logger"
	"github.com/pkg/errors"
)

// Registry holds the event subscribers and broadcasts events to them.
type Registry struct {
	clients map[string]fanpanel.Client
	lock    *sync.RWMutex
}

func New() *Registry {
	return &Registry{
		clients: make(map[string]fanpanel.Client),
		lock:    &sync.RWMutex{},
	}
}

func (c *Registry) Register(client fanpanel.Client) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.clients[client.ID()] = client

	return nil
}

func (c *Registry) Unregister(client fanpanel.Client) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	delete(c.clients, client.ID())

	return nil
}

func (c *Registry) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return len(c.clients)
}

// Publish writes the event to every subscriber. Subscribers whose write
// fails are dropped.
func (c *Registry) Publish(event *fanpanel.Event) error {
	b, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	c.lock.RLock()
	targets := make([]fanpanel.Client, 0, len(c.clients))
	for _, client := range c.clients {
		targets = append(targets, client)
	}
	c.lock.RUnlock()

	for _, client := range targets {
		if _, err := client.Write(b); err != nil {
			logger.Warningf("Dropping subscriber %s: %s", client.ID(), err)
			if err := c.Unregister(client); err != nil {
				logger.Error(err)
			}
		}
	}

	return nil
}
