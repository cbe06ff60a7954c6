package client

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/IpsoVeritas/fanpanel"
	"github.com/IpsoVeritas/logger"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const reconnectDelay = time.Second

// Follower keeps a websocket open to the panel's event stream and calls
// the handler for every event. It reconnects until closed.
type Follower struct {
	url     string
	handler func(*fanpanel.Event)

	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup
}

// Follow starts following the panel's events in the background.
func (p *PanelClient) Follow(handler func(*fanpanel.Event)) (*Follower, error) {
	u, err := eventsURL(p.endpoint)
	if err != nil {
		return nil, err
	}

	f := &Follower{
		url:     u,
		handler: handler,
	}
	f.ctx, f.cancel = context.WithCancel(context.Background())

	f.wg.Add(1)
	go f.subscribe()

	return f, nil
}

func eventsURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse endpoint")
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/events"

	return u.String(), nil
}

// Close stops the follower and waits for it to exit.
func (f *Follower) Close() error {
	f.cancel()
	f.wg.Wait()

	return nil
}

func (f *Follower) subscribe() {
	defer f.wg.Done()

	for {
		if f.ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(f.ctx, f.url, nil)
		if err != nil {
			if f.ctx.Err() == nil {
				logger.Error(errors.Wrap(err, "failed to connect to panel"))
			}
			f.sleep()
			continue
		}

		if err := f.read(conn); err != nil {
			logger.Error(err)
			f.sleep()
		}
	}
}

func (f *Follower) read(conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-f.ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	for {
		_, body, err := conn.ReadMessage()
		if err != nil {
			if f.ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to read message")
		}

		e := &fanpanel.Event{}
		if err := json.Unmarshal(body, e); err != nil {
			logger.Error(errors.Wrap(err, "failed to unmarshal event"))
			continue
		}

		f.handler(e)
	}
}

func (f *Follower) sleep() {
	select {
	case <-f.ctx.Done():
	case <-time.After(reconnectDelay):
	}
}
