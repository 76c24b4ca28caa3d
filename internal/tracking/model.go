package tracking

import (
	"math"
	"time"

	"courier-client/internal/api"
)

// ErrPermissionDenied means the device refused access to its position.
var ErrPermissionDenied = api.ErrPermission

// Sample is one position reading. Only the latest is kept.
type Sample struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CapturedAt time.Time `json:"captured_at"`
}

// locationUpdate is the body for POST /riders/location.
type locationUpdate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Policy decides which samples are worth sending to the backend.
type Policy struct {
	MinInterval time.Duration
	MinDistance float64 // meters
}

func DefaultPolicy() Policy {
	return Policy{MinInterval: 30 * time.Second, MinDistance: 100}
}

// ShouldForward reports whether next may be sent given the last forwarded
// sample. Both thresholds must hold. The first sample always goes out.
func (p Policy) ShouldForward(last *Sample, next Sample) bool {
	if last == nil {
		return true
	}
	if next.CapturedAt.Sub(last.CapturedAt) < p.MinInterval {
		return false
	}
	return Distance(*last, next) >= p.MinDistance
}

const earthRadius = 6371000 // meters

// Distance is the haversine distance between a and b in meters.
func Distance(a, b Sample) float64 {
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLng/2)*math.Sin(dLng/2)*math.Cos(lat1)*math.Cos(lat2)
	return 2 * earthRadius * math.Asin(math.Sqrt(h))
}

// Offset returns the point meters north and east of s.
func Offset(s Sample, north, east float64) Sample {
	lat := s.Latitude + (north/earthRadius)*180/math.Pi
	lng := s.Longitude + (east/(earthRadius*math.Cos(s.Latitude*math.Pi/180)))*180/math.Pi
	return Sample{Latitude: lat, Longitude: lng, CapturedAt: s.CapturedAt}
}
