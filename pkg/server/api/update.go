package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/IpsoVeritas/fanpanel"
	"github.com/IpsoVeritas/fanpanel/pkg/forwarder"
	"github.com/IpsoVeritas/fanpanel/pkg/server/metrics"
	"github.com/IpsoVeritas/logger"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	"github.com/ulule/limiter"
)

type Forwarder interface {
	Forward(ctx context.Context, address string, speed fanpanel.Speed) (*forwarder.Response, error)
}

type UpdateController struct {
	device    fanpanel.DeviceRegistry
	forwarder Forwarder
	limiter   *limiter.Limiter
	publisher fanpanel.Publisher
	metrics   *metrics.Metrics
}

// NewUpdateController wires the speed forwarding endpoint. A nil limiter
// disables rate limiting and a nil metrics records nothing.
func NewUpdateController(device fanpanel.DeviceRegistry, forwarder Forwarder, limiter *limiter.Limiter, publisher fanpanel.Publisher, metrics *metrics.Metrics) *UpdateController {
	return &UpdateController{
		device:    device,
		forwarder: forwarder,
		limiter:   limiter,
		publisher: publisher,
		metrics:   metrics,
	}
}

func (s *UpdateController) Handle(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	log := logger.ForContext(r.Context())

	speed, err := fanpanel.ParseSpeed(r.URL.Query().Get("speed"))
	if err != nil {
		log.Debug(err)
		s.metrics.Forward(metrics.OutcomeInvalid)
		http.Error(w, "invalid speed value", http.StatusBadRequest)
		return
	}

	address, err := s.device.Address()
	if err != nil {
		s.metrics.Forward(metrics.OutcomeNoDevice)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.limiter != nil {
		limit, err := s.limiter.Get(r.Context(), remoteHost(r))
		if err != nil {
			http.Error(w, errors.Wrap(err, "failed to get limit").Error(), http.StatusInternalServerError)
			return
		}

		if limit.Reached {
			s.metrics.Forward(metrics.OutcomeLimited)
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
	}

	log.Debugf("Forwarding speed %d to %s", speed, address)

	start := time.Now()
	res, err := s.forwarder.Forward(r.Context(), address, speed)
	s.metrics.ForwardDuration(time.Since(start).Seconds())
	if err != nil {
		err = errors.Wrap(err, fanpanel.ErrUpstream.Error())
		log.Error(err)
		s.metrics.Forward(metrics.OutcomeUpstreamError)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if res.Status >= 200 && res.Status < 300 {
		s.metrics.Forward(metrics.OutcomeOK)
		s.device.SetSpeed(speed)
		if err := s.publisher.Publish(fanpanel.NewSpeedEvent(speed)); err != nil {
			log.Error(errors.Wrap(err, "failed to publish speed event"))
		}
	} else {
		log.Warningf("Device answered %d for speed %d", res.Status, speed)
		s.metrics.Forward(metrics.OutcomeDeviceError)
	}

	if res.ContentType != "" {
		w.Header().Set("Content-Type", res.ContentType)
	}
	w.WriteHeader(res.Status)
	w.Write(res.Body)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
