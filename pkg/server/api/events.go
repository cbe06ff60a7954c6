package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/IpsoVeritas/fanpanel"
	"github.com/IpsoVeritas/httphandler"
	"github.com/IpsoVeritas/logger"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

const (
	pingInterval = 10 * time.Second
	writeTimeout = 5 * time.Second
)

type EventsController struct {
	clients fanpanel.Registry
	device  fanpanel.DeviceRegistry
}

func NewEventsController(clients fanpanel.Registry, device fanpanel.DeviceRegistry) *EventsController {
	return &EventsController{
		clients: clients,
		device:  device,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SubscribeHandler upgrades to a websocket and streams device and speed
// events until the browser goes away.
func (s *EventsController) SubscribeHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	id := uuid.NewV4().String()
	ctx := context.WithValue(r.Context(), httphandler.RequestIDKey, id)
	log := logger.ForContext(ctx)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error(errors.Wrap(err, "failed to upgrade to websocket"))
		return
	}
	defer conn.Close()

	sub := newSubscriber(ctx, id, conn, log)

	// registered before the replay so no event published in between is lost
	if err := s.clients.Register(sub); err != nil {
		log.Error(errors.Wrap(err, "failed to register subscriber"))
		return
	}

	if err := sub.sendStatus(s.device.Status()); err != nil {
		log.Error(err)
	} else if err := sub.handle(); err != nil {
		log.Error(err)
	}

	if err := s.clients.Unregister(sub); err != nil {
		log.Error(err)
	}

	log.Debug("Subscriber disconnected")
}

type subscriber struct {
	id string

	ctx    context.Context
	cancel func()

	lock *sync.Mutex
	conn *websocket.Conn

	logger *logger.Entry
}

func newSubscriber(ctx context.Context, id string, conn *websocket.Conn, log *logger.Entry) *subscriber {
	c := &subscriber{
		id:     id,
		lock:   &sync.Mutex{},
		conn:   conn,
		logger: log,
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	return c
}

func (c *subscriber) ID() string {
	return c.id
}

func (c *subscriber) Write(p []byte) (n int, err error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err = c.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}

	return len(p), nil
}

// sendStatus brings a new subscriber up to date.
func (c *subscriber) sendStatus(status fanpanel.Status) error {
	if !status.Connected {
		return nil
	}

	for _, e := range []*fanpanel.Event{fanpanel.NewDeviceEvent(status.Address), fanpanel.NewSpeedEvent(status.Speed)} {
		b, err := json.Marshal(e)
		if err != nil {
			return errors.Wrap(err, "failed to marshal event")
		}
		if _, err := c.Write(b); err != nil {
			return errors.Wrap(err, "failed to send status")
		}
	}

	return nil
}

func (c *subscriber) handle() error {
	go c.ping()
	defer c.cancel()

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("context done")
			return nil
		default:
			// the browser never sends anything, reading only surfaces close frames
			if _, _, err := c.conn.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.ctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "failed to read message")
			}
		}
	}
}

func (c *subscriber) ping() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(pingInterval):
			c.lock.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.lock.Unlock()
			if err != nil {
				c.logger.Warningf("Ping failed, dropping subscriber: %s", err)
				c.cancel()
				c.conn.Close()
				return
			}
		}
	}
}
