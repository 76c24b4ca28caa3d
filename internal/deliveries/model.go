package deliveries

import (
	"fmt"
	"time"

	"courier-client/internal/api"
)

// Order statuses as the backend reports them.
const (
	StatusAssigned   = "assigned"
	StatusPickedUp   = "picked_up"
	StatusInProgress = "in_progress"
	StatusDelivering = "delivering"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
)

var (
	ErrInvalidArgument   = fmt.Errorf("%w: order id is required", api.ErrValidation)
	ErrInvalidTransition = fmt.Errorf("%w: status change not allowed", api.ErrValidation)
)

// next lists the statuses each non-terminal status may move to.
var next = map[string][]string{
	StatusAssigned:   {StatusPickedUp, StatusCancelled},
	StatusPickedUp:   {StatusInProgress, StatusDelivering, StatusDelivered, StatusCancelled},
	StatusInProgress: {StatusDelivered, StatusCancelled},
	StatusDelivering: {StatusDelivered, StatusCancelled},
}

// Terminal reports whether status takes an order out of the active set.
func Terminal(status string) bool {
	return status == StatusDelivered || status == StatusCancelled
}

// CanTransition reports whether from → to is a move this client will send.
// Statuses it does not know are left to the backend to judge.
func CanTransition(from, to string) bool {
	if Terminal(from) {
		return false
	}
	allowed, known := next[from]
	if !known {
		return true
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

type Item struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Order is the rider's read-through copy of a backend order.
type Order struct {
	ID               api.ID     `json:"id"`
	RiderID          api.ID     `json:"rider_id"`
	Status           string     `json:"status"`
	PickupLocation   Location   `json:"pickup_location"`
	DeliveryLocation Location   `json:"delivery_location"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	TotalAmount      float64    `json:"total_amount"`
	DeliveryFee      float64    `json:"delivery_fee"`
	RestaurantName   string     `json:"restaurant_name,omitempty"`
	RestaurantPhone  string     `json:"restaurant_phone,omitempty"`
	CustomerName     string     `json:"customer_name,omitempty"`
	CustomerPhone    string     `json:"customer_phone,omitempty"`
	Items            []Item     `json:"items,omitempty"`
}

func (o Order) clone() Order {
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		o.CompletedAt = &t
	}
	if o.Items != nil {
		o.Items = append([]Item(nil), o.Items...)
	}
	return o
}

// DeliverySet splits the rider's orders by status: terminal ones are
// history, everything else is active.
type DeliverySet struct {
	Active   []Order   `json:"active"`
	History  []Order   `json:"history"`
	SyncedAt time.Time `json:"synced_at,omitempty"`
}

// Partition builds a DeliverySet from a full order list, keeping list order.
func Partition(orders []Order) DeliverySet {
	set := DeliverySet{Active: []Order{}, History: []Order{}}
	for _, o := range orders {
		if Terminal(o.Status) {
			set.History = append(set.History, o.clone())
		} else {
			set.Active = append(set.Active, o.clone())
		}
	}
	return set
}

// Clone returns a deep copy of d.
func (d DeliverySet) Clone() DeliverySet {
	out := DeliverySet{Active: make([]Order, len(d.Active)), History: make([]Order, len(d.History)), SyncedAt: d.SyncedAt}
	for i, o := range d.Active {
		out.Active[i] = o.clone()
	}
	for i, o := range d.History {
		out.History[i] = o.clone()
	}
	return out
}

func (d DeliverySet) find(id string) (Order, bool) {
	for _, o := range d.Active {
		if o.ID.String() == id {
			return o, true
		}
	}
	for _, o := range d.History {
		if o.ID.String() == id {
			return o, true
		}
	}
	return Order{}, false
}

type statusUpdate struct {
	Status string `json:"status"`
}
