package tracking

import (
	"context"
	"sync"
)

// Source opens position subscriptions.
type Source interface {
	Open(ctx context.Context) (Feed, error)
}

// Feed is one open subscription. Samples is closed when the feed ends,
// either through Close or because the underlying stream dropped.
type Feed interface {
	Samples() <-chan Sample
	Close() error
}

// ChanSource is a Source driven by hand.
type ChanSource struct {
	mu      sync.Mutex
	openErr error
	feeds   []*chanFeed
	opened  int
}

func NewChanSource() *ChanSource { return &ChanSource{} }

// FailOpen makes every following Open return err until cleared with nil.
func (s *ChanSource) FailOpen(err error) {
	s.mu.Lock()
	s.openErr = err
	s.mu.Unlock()
}

func (s *ChanSource) Open(context.Context) (Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	f := &chanFeed{ch: make(chan Sample, 64)}
	s.feeds = append(s.feeds, f)
	s.opened++
	return f, nil
}

// Push delivers sample to every open feed.
func (s *ChanSource) Push(sample Sample) {
	s.mu.Lock()
	feeds := append([]*chanFeed(nil), s.feeds...)
	s.mu.Unlock()
	for _, f := range feeds {
		f.send(sample)
	}
}

// Drop ends every open feed as if the stream had gone away.
func (s *ChanSource) Drop() {
	s.mu.Lock()
	feeds := s.feeds
	s.feeds = nil
	s.mu.Unlock()
	for _, f := range feeds {
		f.Close()
	}
}

// OpenFeeds returns the number of feeds that are currently open.
func (s *ChanSource) OpenFeeds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.feeds {
		if !f.isClosed() {
			n++
		}
	}
	return n
}

// Opened returns how many feeds were ever opened.
func (s *ChanSource) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

type chanFeed struct {
	mu     sync.Mutex
	ch     chan Sample
	closed bool
}

func (f *chanFeed) Samples() <-chan Sample { return f.ch }

func (f *chanFeed) send(s Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.ch <- s
	}
}

func (f *chanFeed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *chanFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.ch)
	return nil
}

// Unavailable is the Source used when the device has no position provider.
// Every Open is refused as a permission failure.
type Unavailable struct{}

func (Unavailable) Open(context.Context) (Feed, error) { return nil, ErrPermissionDenied }
