package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/IpsoVeritas/fanpanel"
	"github.com/IpsoVeritas/logger"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
)

type ReceiveController struct {
	device    fanpanel.DeviceRegistry
	publisher fanpanel.Publisher
}

func NewReceiveController(device fanpanel.DeviceRegistry, publisher fanpanel.Publisher) *ReceiveController {
	return &ReceiveController{
		device:    device,
		publisher: publisher,
	}
}

// Handle accepts the device's address callback.
func (s *ReceiveController) Handle(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	log := logger.ForContext(r.Context())

	req := &fanpanel.RegistrationRequest{}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1024*10)).Decode(req); err != nil {
		log.Debug(errors.Wrap(err, "failed to decode registration"))
		writeJSON(w, http.StatusBadRequest, fanpanel.NewErrorResponse("invalid JSON body"))
		return
	}

	address, err := s.device.Register(req.IP)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, fanpanel.NewErrorResponse("ip not provided"))
		return
	}

	log.Infof("Device registered at %s", address)

	if err := s.publisher.Publish(fanpanel.NewDeviceEvent(address)); err != nil {
		log.Error(errors.Wrap(err, "failed to publish device event"))
	}

	writeJSON(w, http.StatusOK, fanpanel.NewRegistrationResponse(req.IP))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, errors.Wrap(err, "failed to marshal response").Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
