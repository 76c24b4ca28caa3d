package fakebackend

import (
	"errors"
	"net/http"
	"sync/atomic"
)

// ErrOffline is what a downed Network returns instead of a response.
var ErrOffline = errors.New("dial tcp: connect: network is unreachable")

// Network is an http.RoundTripper whose connectivity can be cut.
type Network struct {
	down atomic.Bool
	next http.RoundTripper
}

func NewNetwork() *Network {
	return &Network{next: http.DefaultTransport}
}

func (n *Network) SetDown(down bool) { n.down.Store(down) }

func (n *Network) RoundTrip(r *http.Request) (*http.Response, error) {
	if n.down.Load() {
		if r.Body != nil {
			r.Body.Close()
		}
		return nil, ErrOffline
	}
	return n.next.RoundTrip(r)
}

// Client returns an http.Client routed through n.
func (n *Network) Client() *http.Client {
	return &http.Client{Transport: n}
}
