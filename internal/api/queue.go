package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"courier-client/internal/storage"
)

// QueueKey is the storage key holding the pending-request array.
const QueueKey = "pending_requests"

// QueuedRequest is a mutating call that failed for lack of connectivity.
type QueuedRequest struct {
	ID         uuid.UUID       `json:"id"`
	Method     string          `json:"method"`
	Path       string          `json:"url"`
	Body       json.RawMessage `json:"body,omitempty"`
	Query      url.Values      `json:"queryParams,omitempty"`
	Owner      string          `json:"owner,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Queue persists QueuedRequests as one JSON array. Every mutation is a
// read-modify-write of the whole array under mu.
type Queue struct {
	store storage.Store
	mu    sync.Mutex
}

func NewQueue(store storage.Store) *Queue {
	return &Queue{store: store}
}

func (q *Queue) load(ctx context.Context) ([]QueuedRequest, error) {
	data, err := q.store.Get(ctx, QueueKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	var items []QueuedRequest
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	return items, nil
}

func (q *Queue) save(ctx context.Context, items []QueuedRequest) error {
	if len(items) == 0 {
		return q.store.Delete(ctx, QueueKey)
	}
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return q.store.Set(ctx, QueueKey, data)
}

// Enqueue appends r to the durable queue.
func (q *Queue) Enqueue(ctx context.Context, r QueuedRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	items, err := q.load(ctx)
	if err != nil {
		return err
	}
	return q.save(ctx, append(items, r))
}

// Pending returns a copy of the queued requests in enqueue order.
func (q *Queue) Pending(ctx context.Context) ([]QueuedRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Len returns the number of queued requests.
func (q *Queue) Len(ctx context.Context) (int, error) {
	items, err := q.Pending(ctx)
	return len(items), err
}

// TakeAll empties the durable queue and returns what it held. Anything
// enqueued afterwards lands in a fresh array. An undecodable array is
// discarded so the queue cannot stay wedged.
func (q *Queue) TakeAll(ctx context.Context) ([]QueuedRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items, loadErr := q.load(ctx)
	if err := q.store.Delete(ctx, QueueKey); err != nil {
		return nil, fmt.Errorf("clear queue: %w", err)
	}
	return items, loadErr
}

// Restore puts items back at the head of the queue, ahead of anything
// enqueued since they were taken.
func (q *Queue) Restore(ctx context.Context, items []QueuedRequest) error {
	if len(items) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	current, err := q.load(ctx)
	if err != nil {
		return err
	}
	merged := make([]QueuedRequest, 0, len(items)+len(current))
	merged = append(merged, items...)
	merged = append(merged, current...)
	return q.save(ctx, merged)
}
