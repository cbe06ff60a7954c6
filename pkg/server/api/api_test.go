package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IpsoVeritas/fanpanel"
	"github.com/IpsoVeritas/fanpanel/pkg/forwarder"
	"github.com/IpsoVeritas/fanpanel/pkg/server/clients"
	"github.com/IpsoVeritas/fanpanel/pkg/server/device"
	"github.com/IpsoVeritas/fanpanel/pkg/server/metrics"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
	"github.com/ulule/limiter"
	"github.com/ulule/limiter/drivers/store/memory"
)

type panel struct {
	device  *device.Registry
	clients *clients.Registry
	metrics *metrics.Metrics
	router  *httprouter.Router
}

func newPanel(timeout time.Duration, lim *limiter.Limiter) *panel {
	p := &panel{
		device:  device.New(""),
		clients: clients.New(),
		metrics: metrics.New(),
		router:  httprouter.New(),
	}
	publisher := fanpanel.Publishers{p.clients, p.metrics}

	p.router.GET("/update", NewUpdateController(p.device, forwarder.New(nil, timeout), lim, publisher, p.metrics).Handle)
	p.router.POST("/receive_ip", NewReceiveController(p.device, publisher).Handle)
	p.router.GET("/status", NewStatusController(p.device).Handle)
	p.router.GET("/events", NewEventsController(p.clients, p.device).SubscribeHandler)

	return p
}

func (p *panel) do(method, target string, body string) *http.Response {
	w := httptest.NewRecorder()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	p.router.ServeHTTP(w, httptest.NewRequest(method, target, r))
	return w.Result()
}

func readBody(t *testing.T, res *http.Response) string {
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(b)
}

// fanDevice mimics the controller's /setSpeed endpoint.
func fanDevice(hits *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.URL.Path != "/setSpeed" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("Speed set to " + r.URL.Query().Get("speed")))
	}))
}

func TestUpdateForwardsEverySpeed(t *testing.T) {
	var hits int32
	dev := fanDevice(&hits)
	defer dev.Close()

	p := newPanel(time.Second, nil)
	_, err := p.device.Register(dev.URL)
	require.NoError(t, err)

	for v := fanpanel.MinSpeed; v <= fanpanel.MaxSpeed; v++ {
		res := p.do("GET", "/update?speed="+strconv.Itoa(v), "")
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, "text/plain; charset=utf-8", res.Header.Get("Content-Type"))
		require.Equal(t, "Speed set to "+strconv.Itoa(v), readBody(t, res))
	}

	require.Equal(t, int32(fanpanel.MaxSpeed+1), atomic.LoadInt32(&hits))
	require.Equal(t, fanpanel.Speed(255), p.device.Status().Speed)
}

func TestUpdateRelaysDeviceErrors(t *testing.T) {
	dev := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overheated", http.StatusServiceUnavailable)
	}))
	defer dev.Close()

	p := newPanel(time.Second, nil)
	_, err := p.device.Register(dev.URL)
	require.NoError(t, err)
	p.device.SetSpeed(10)

	res := p.do("GET", "/update?speed=100", "")
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	require.Equal(t, "overheated\n", readBody(t, res))
	require.Equal(t, fanpanel.Speed(10), p.device.Status().Speed)
}

func TestUpdateInvalidSpeed(t *testing.T) {
	var hits int32
	dev := fanDevice(&hits)
	defer dev.Close()

	p := newPanel(time.Second, nil)
	_, err := p.device.Register(dev.URL)
	require.NoError(t, err)

	for _, q := range []string{"", "?speed=", "?speed=256", "?speed=-1", "?speed=abc", "?speed=12.5"} {
		res := p.do("GET", "/update"+q, "")
		require.Equal(t, http.StatusBadRequest, res.StatusCode, q)
	}

	require.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestUpdateWithoutDevice(t *testing.T) {
	p := newPanel(time.Second, nil)

	res := p.do("GET", "/update?speed=10", "")
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Contains(t, readBody(t, res), "device not connected")
}

func TestUpdateUpstreamTimeout(t *testing.T) {
	release := make(chan struct{})
	dev := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer dev.Close()
	defer close(release)

	p := newPanel(50*time.Millisecond, nil)
	_, err := p.device.Register(dev.URL)
	require.NoError(t, err)

	res := p.do("GET", "/update?speed=10", "")
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
	body := readBody(t, res)
	require.Contains(t, body, "failed to reach device")
	require.Contains(t, body, "deadline exceeded")
}

func TestUpdateRateLimited(t *testing.T) {
	var hits int32
	dev := fanDevice(&hits)
	defer dev.Close()

	lim := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 2})
	p := newPanel(time.Second, lim)
	_, err := p.device.Register(dev.URL)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, p.do("GET", "/update?speed=1", "").StatusCode)
	require.Equal(t, http.StatusOK, p.do("GET", "/update?speed=2", "").StatusCode)
	require.Equal(t, http.StatusTooManyRequests, p.do("GET", "/update?speed=3", "").StatusCode)
	require.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestReceiveIP(t *testing.T) {
	p := newPanel(time.Second, nil)

	res := p.do("POST", "/receive_ip", `{"ip":"10.0.0.5"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "application/json", res.Header.Get("Content-Type"))

	ack := &fanpanel.RegistrationResponse{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(ack))
	require.Equal(t, fanpanel.RegistrationResponse{Status: "success", IP: "10.0.0.5"}, *ack)

	addr, err := p.device.Address()
	require.NoError(t, err)
	require.Equal(t, "http://10.0.0.5", addr)
}

func TestReceiveIPErrors(t *testing.T) {
	p := newPanel(time.Second, nil)

	for _, body := range []string{`{}`, `{"ip":""}`, `{"ip":"  "}`, `not json`, `{"ip":5}`} {
		res := p.do("POST", "/receive_ip", body)
		require.Equal(t, http.StatusBadRequest, res.StatusCode, body)

		e := &fanpanel.ErrorResponse{}
		require.NoError(t, json.NewDecoder(res.Body).Decode(e), body)
		require.Equal(t, "error", e.Status)
		require.NotEmpty(t, e.Message)
	}

	_, err := p.device.Address()
	require.Equal(t, fanpanel.ErrDeviceNotRegistered, err)
}

func TestStatus(t *testing.T) {
	p := newPanel(time.Second, nil)
	require.Equal(t, http.StatusOK, p.do("POST", "/receive_ip", `{"ip":"10.0.0.7"}`).StatusCode)

	status := &fanpanel.Status{}
	require.NoError(t, json.NewDecoder(p.do("GET", "/status", "").Body).Decode(status))
	require.Equal(t, fanpanel.Status{Connected: true, Address: "http://10.0.0.7"}, *status)
}

func TestEventsFollowRegistrationAndSpeed(t *testing.T) {
	var hits int32
	dev := fanDevice(&hits)
	defer dev.Close()

	p := newPanel(time.Second, nil)
	server := httptest.NewServer(p.router)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/events", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return p.clients.Len() == 1 }, time.Second, 10*time.Millisecond)

	res, err := http.Post(server.URL+"/receive_ip", "application/json", bytes.NewBufferString(`{"ip":"`+strings.TrimPrefix(dev.URL, "http://")+`"}`))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(server.URL + "/update?speed=77")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	e := &fanpanel.Event{}
	require.NoError(t, conn.ReadJSON(e))
	require.Equal(t, fanpanel.EventDevice, e.Type)
	require.Equal(t, dev.URL, e.Address)

	e = &fanpanel.Event{}
	require.NoError(t, conn.ReadJSON(e))
	require.Equal(t, fanpanel.EventSpeed, e.Type)
	require.Equal(t, fanpanel.Speed(77), *e.Speed)
}

func TestEventsSendStatusOnConnect(t *testing.T) {
	p := newPanel(time.Second, nil)
	_, err := p.device.Register("10.0.0.9")
	require.NoError(t, err)
	p.device.SetSpeed(33)

	server := httptest.NewServer(p.router)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	e := &fanpanel.Event{}
	require.NoError(t, conn.ReadJSON(e))
	require.Equal(t, "http://10.0.0.9", e.Address)

	e = &fanpanel.Event{}
	require.NoError(t, conn.ReadJSON(e))
	require.Equal(t, fanpanel.Speed(33), *e.Speed)
}

func TestIndexRender(t *testing.T) {
	reg := device.New("")
	c := NewIndexController(reg)

	buf := &bytes.Buffer{}
	require.NoError(t, c.Render(buf))
	require.Contains(t, buf.String(), "Device not connected")
	require.Contains(t, buf.String(), `max="255"`)

	_, err := reg.Register("10.0.0.5")
	require.NoError(t, err)
	reg.SetSpeed(120)

	buf.Reset()
	require.NoError(t, c.Render(buf))
	require.Contains(t, buf.String(), "Device: http://10.0.0.5")
	require.Contains(t, buf.String(), `value="120"`)
}

// eventOnStatus publishes an event the moment the subscriber's status is
// read, landing between the subscription and the status replay.
type eventOnStatus struct {
	*device.Registry
	clients *clients.Registry
	once    sync.Once
}

func (d *eventOnStatus) Status() fanpanel.Status {
	d.once.Do(func() {
		d.clients.Publish(fanpanel.NewSpeedEvent(9))
	})
	return d.Registry.Status()
}

func TestEventsPublishedDuringSubscribeAreDelivered(t *testing.T) {
	subs := clients.New()
	dev := &eventOnStatus{Registry: device.New(""), clients: subs}

	r := httprouter.New()
	r.GET("/events", NewEventsController(subs, dev).SubscribeHandler)
	server := httptest.NewServer(r)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	e := &fanpanel.Event{}
	require.NoError(t, conn.ReadJSON(e))
	require.Equal(t, fanpanel.EventSpeed, e.Type)
	require.Equal(t, fanpanel.Speed(9), *e.Speed)
}

func TestUpdateWithoutMetrics(t *testing.T) {
	var hits int32
	dev := fanDevice(&hits)
	defer dev.Close()

	reg := device.New(dev.URL)
	r := httprouter.New()
	r.GET("/update", NewUpdateController(reg, forwarder.New(nil, time.Second), nil, fanpanel.Publishers{}, nil).Handle)

	for _, target := range []string{"/update?speed=5", "/update?speed=x"} {
		w := httptest.NewRecorder()
		require.NotPanics(t, func() {
			r.ServeHTTP(w, httptest.NewRequest("GET", target, nil))
		})
	}
	require.Equal(t, fanpanel.Speed(5), reg.Status().Speed)
}
