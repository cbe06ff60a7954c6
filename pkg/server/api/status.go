package api

import (
	"net/http"

	"github.com/IpsoVeritas/fanpanel"
	"github.com/julienschmidt/httprouter"
)

type StatusController struct {
	device fanpanel.DeviceRegistry
}

func NewStatusController(device fanpanel.DeviceRegistry) *StatusController {
	return &StatusController{device: device}
}

func (s *StatusController) Handle(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.device.Status())
}
