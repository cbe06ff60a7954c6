package fanpanel

import (
	"time"

	uuid "github.com/satori/go.uuid"
)

const (
	EventDevice = "device"
	EventSpeed  = "speed"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Event is pushed to subscribers whenever the device registers or accepts a
// new speed.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Address   string    `json:"address,omitempty"`
	Speed     *Speed    `json:"speed,omitempty"`
}

func NewDeviceEvent(address string) *Event {
	return &Event{
		ID:        uuid.NewV4().String(),
		Type:      EventDevice,
		Timestamp: time.Now().UTC(),
		Address:   address,
	}
}

func NewSpeedEvent(speed Speed) *Event {
	return &Event{
		ID:        uuid.NewV4().String(),
		Type:      EventSpeed,
		Timestamp: time.Now().UTC(),
		Speed:     &speed,
	}
}

// RegistrationRequest is sent by the device to announce its address.
type RegistrationRequest struct {
	IP string `json:"ip"`
}

type RegistrationResponse struct {
	Status string `json:"status"`
	IP     string `json:"ip"`
}

func NewRegistrationResponse(ip string) *RegistrationResponse {
	return &RegistrationResponse{
		Status: StatusSuccess,
		IP:     ip,
	}
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func NewErrorResponse(message string) *ErrorResponse {
	return &ErrorResponse{
		Status:  StatusError,
		Message: message,
	}
}

// Status is a snapshot of what the panel knows about the device.
type Status struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address"`
	Speed     Speed  `json:"speed"`
}
