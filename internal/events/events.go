package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeSessionChanged   = "session.changed"
	TypeRiderOnline      = "rider.online"
	TypeRiderOffline     = "rider.offline"
	TypeRiderPosition    = "rider.position"
	TypeDeliveryStatus   = "delivery.status"
	TypeDeliveriesSynced = "deliveries.synced"
)

// LatLng is a coordinate pair used in event payloads.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Event is one state change of the courier agent.
type Event struct {
	ID       uuid.UUID `json:"id"`
	Type     string    `json:"type"`
	At       time.Time `json:"at"`
	RiderID  string    `json:"rider_id,omitempty"`
	OrderID  string    `json:"order_id,omitempty"`
	Status   string    `json:"status,omitempty"`
	Online   *bool     `json:"online,omitempty"`
	Position *LatLng   `json:"position,omitempty"`
	Active   *int      `json:"active,omitempty"`
	History  *int      `json:"history,omitempty"`
}

// New returns an event of type typ stamped with a fresh ID and the current time.
func New(typ string) Event {
	return Event{ID: uuid.New(), Type: typ, At: time.Now().UTC()}
}

func SessionChanged(state, riderID string) Event {
	e := New(TypeSessionChanged)
	e.Status = state
	e.RiderID = riderID
	return e
}

func RiderAvailability(riderID string, online bool) Event {
	typ := TypeRiderOffline
	if online {
		typ = TypeRiderOnline
	}
	e := New(typ)
	e.RiderID = riderID
	e.Online = &online
	return e
}

func RiderPosition(riderID string, lat, lng float64, at time.Time) Event {
	e := New(TypeRiderPosition)
	e.RiderID = riderID
	e.Position = &LatLng{Lat: lat, Lng: lng}
	if !at.IsZero() {
		e.At = at.UTC()
	}
	return e
}

func DeliveryStatus(riderID, orderID, status string) Event {
	e := New(TypeDeliveryStatus)
	e.RiderID = riderID
	e.OrderID = orderID
	e.Status = status
	return e
}

func DeliveriesSynced(riderID string, active, history int) Event {
	e := New(TypeDeliveriesSynced)
	e.RiderID = riderID
	e.Active = &active
	e.History = &history
	return e
}
