package session

import "courier-client/internal/api"

// State is where the session machine currently is.
type State int

const (
	Uninitialized State = iota
	Bootstrapping
	Authenticated
	Anonymous
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Bootstrapping:
		return "bootstrapping"
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is the snapshot served on GET /session.
type Status struct {
	State   State     `json:"state"`
	User    *api.User `json:"user,omitempty"`
	Error   string    `json:"error,omitempty"`
	Message string    `json:"message,omitempty"`
}
