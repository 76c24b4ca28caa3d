package availability

import (
	"errors"

	"courier-client/internal/api"
	"courier-client/internal/tracking"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

var (
	// ErrTrackingUnavailable means the backend has the rider online but the
	// position subscription could not be started. It wraps the cause.
	ErrTrackingUnavailable = errors.New("tracking unavailable")
	// ErrOffline is returned by operations that need the rider online.
	ErrOffline = errors.New("rider is offline")
)

// Rider is the backend's view of the rider's availability.
type Rider struct {
	ID          api.ID `json:"id"`
	Status      string `json:"status"`
	IsAvailable bool   `json:"is_available"`
}

type statusUpdate struct {
	Status string `json:"status"`
}

type availabilityUpdate struct {
	IsAvailable bool `json:"isAvailable"`
}

// State is the controller snapshot handed to observers and the UI.
type State struct {
	Online    bool            `json:"online"`
	Accepting bool            `json:"accepting"`
	Tracking  tracking.Status `json:"tracking"`
	Error     string          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
}
