package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"courier-client/pkg/jwt"
	"courier-client/pkg/validation"
)

// CredentialStore is the persisted side of the bearer credential.
type CredentialStore interface {
	Clear(ctx context.Context) error
}

// Client is the single point of contact with the delivery backend.
type Client struct {
	baseURL string
	http    *http.Client
	queue   *Queue
	creds   CredentialStore
	log     *slog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	token string

	hooksMu        sync.Mutex
	onUnauthorized []func()

	replayMu sync.Mutex
}

// NewClient builds a Client. httpClient carries the network-layer call
// timeout; a zero-value http.Client gets 15s.
func NewClient(baseURL string, httpClient *http.Client, queue *Queue, creds CredentialStore, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		queue:   queue,
		creds:   creds,
		log:     log.With("component", "api"),
		now:     time.Now,
	}
}

// SetToken installs the bearer credential attached to every call.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the installed bearer credential.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// OnUnauthorized registers fn to run after any 401 has torn the credential down.
func (c *Client) OnUnauthorized(fn func()) {
	c.hooksMu.Lock()
	c.onUnauthorized = append(c.onUnauthorized, fn)
	c.hooksMu.Unlock()
}

// Queue exposes the pending-request queue.
func (c *Client) Queue() *Queue { return c.queue }

type callOptions struct {
	noQueue bool
	query   url.Values
}

type CallOption func(*callOptions)

// WithoutQueue keeps a mutating call out of the pending-request queue.
func WithoutQueue() CallOption {
	return func(o *callOptions) { o.noQueue = true }
}

// WithQuery adds query parameters to the call.
func WithQuery(q url.Values) CallOption {
	return func(o *callOptions) { o.query = q }
}

// Authenticate exchanges email/password for a credential. It never attaches
// the installed credential and is never queued.
func (c *Client) Authenticate(ctx context.Context, email, password string) (*AuthResponse, error) {
	email = strings.TrimSpace(email)
	if !validation.ValidateEmail(email) || !validation.ValidatePassword(password) {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	body, err := json.Marshal(LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}

	data, err := c.send(ctx, http.MethodPost, "/auth/login", nil, body, false)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
			se.kind = ErrInvalidCredentials
		}
		return nil, err
	}

	var resp AuthResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode login response: %v", ErrServer, err)
	}
	if resp.Token == "" || resp.User == nil {
		return nil, fmt.Errorf("%w: login response without token or user", ErrServer)
	}
	return &resp, nil
}

// Get performs an authenticated GET and decodes the body into out. Never queued.
func (c *Client) Get(ctx context.Context, path string, out any, opts ...CallOption) error {
	o := applyOptions(opts)
	data, err := c.send(ctx, http.MethodGet, path, o.query, nil, true)
	if err != nil {
		return c.fail(ctx, err)
	}
	return decode(data, out)
}

// Post performs an authenticated POST. A network error enqueues the call.
func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...CallOption) error {
	return c.mutate(ctx, http.MethodPost, path, body, out, applyOptions(opts))
}

// Put performs an authenticated PUT. A network error enqueues the call.
func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...CallOption) error {
	return c.mutate(ctx, http.MethodPut, path, body, out, applyOptions(opts))
}

func (c *Client) mutate(ctx context.Context, method, path string, body, out any, o callOptions) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
	}

	data, err := c.send(ctx, method, path, o.query, payload, true)
	if err != nil {
		if errors.Is(err, ErrNetwork) && !o.noQueue {
			c.enqueue(ctx, method, path, o.query, payload)
		}
		return c.fail(ctx, err)
	}
	return decode(data, out)
}

func (c *Client) enqueue(ctx context.Context, method, path string, query url.Values, payload []byte) {
	if c.queue == nil {
		return
	}
	r := QueuedRequest{
		ID:         uuid.New(),
		Method:     method,
		Path:       path,
		Body:       json.RawMessage(payload),
		Query:      query,
		Owner:      tokenOwner(c.Token()),
		EnqueuedAt: c.now().UTC(),
	}
	if err := c.queue.Enqueue(context.WithoutCancel(ctx), r); err != nil {
		c.log.Error("failed to enqueue request", "method", method, "path", path, "error", err)
		return
	}
	c.log.Info("request queued for replay", "id", r.ID, "method", method, "path", path)
}

// fail runs the global 401 hook before handing err back to the caller.
func (c *Client) fail(ctx context.Context, err error) error {
	if errors.Is(err, ErrUnauthorized) {
		c.invalidate(ctx)
	}
	return err
}

func (c *Client) invalidate(ctx context.Context) {
	c.SetToken("")
	if c.creds != nil {
		if err := c.creds.Clear(context.WithoutCancel(ctx)); err != nil {
			c.log.Error("failed to clear stored credential", "error", err)
		}
	}
	c.log.Warn("session invalidated by backend")

	c.hooksMu.Lock()
	hooks := append([]func(){}, c.onUnauthorized...)
	c.hooksMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// ReplayResult summarises one ReplayQueue pass.
type ReplayResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Dropped   int `json:"dropped"`
	Deferred  int `json:"deferred"`
}

// ReplayQueue takes the whole durable queue and replays it in enqueue order.
// Without a credential nothing is taken. Once taken, the queue is empty
// after the pass unless ctx ends: failed replays are logged and dropped,
// and so are requests queued by another rider and everything left after
// the credential is torn down or replaced mid-pass. Requests the pass
// never reached because ctx ended go back to the head of the queue.
func (c *Client) ReplayQueue(ctx context.Context) (ReplayResult, error) {
	var res ReplayResult
	if c.queue == nil {
		return res, nil
	}
	c.replayMu.Lock()
	defer c.replayMu.Unlock()

	token := c.Token()
	if token == "" {
		n, err := c.queue.Len(ctx)
		res.Deferred = n
		return res, err
	}
	owner := tokenOwner(token)

	items, err := c.queue.TakeAll(ctx)
	if err != nil {
		c.log.Error("pending queue unreadable, discarded", "error", err)
		return res, err
	}

	for i, it := range items {
		if ctx.Err() != nil {
			rest := items[i:]
			res.Deferred = len(rest)
			if err := c.queue.Restore(context.WithoutCancel(ctx), rest); err != nil {
				c.log.Error("failed to restore deferred requests", "count", len(rest), "error", err)
			}
			return res, ctx.Err()
		}
		if c.Token() != token {
			c.drop(items[i:], "credential changed during replay")
			res.Dropped += len(items) - i
			break
		}
		if it.Owner != owner {
			c.drop(items[i:i+1], "queued by another rider")
			res.Dropped++
			continue
		}

		res.Attempted++
		_, err := c.send(ctx, it.Method, it.Path, it.Query, it.Body, true)
		if err != nil {
			res.Failed++
			c.log.Warn("replay failed, dropping request",
				"id", it.ID, "method", it.Method, "path", it.Path,
				"enqueued_at", it.EnqueuedAt, "error", err)
			_ = c.fail(ctx, err)
			continue
		}
		res.Succeeded++
	}

	if len(items) > 0 {
		c.log.Info("pending queue replayed", "attempted", res.Attempted, "succeeded", res.Succeeded,
			"failed", res.Failed, "dropped", res.Dropped)
	}
	return res, nil
}

func (c *Client) drop(items []QueuedRequest, reason string) {
	for _, it := range items {
		c.log.Warn("dropping queued request", "reason", reason,
			"id", it.ID, "method", it.Method, "path", it.Path, "enqueued_at", it.EnqueuedAt)
	}
}

// tokenOwner is the user a bearer credential was issued to, or "" when the
// credential is not a JWT.
func tokenOwner(token string) string {
	claims, err := jwt.Peek(token)
	if err != nil {
		return ""
	}
	if claims.UserID != "" {
		return claims.UserID
	}
	return claims.Subject
}

// Probe checks that the backend answers at all. Any HTTP response counts.
func (c *Client) Probe(ctx context.Context, path string) error {
	_, err := c.send(ctx, http.MethodGet, path, nil, nil, false)
	if err != nil && (errors.Is(err, ErrNetwork) || ctx.Err() != nil) {
		return err
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body []byte, auth bool) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		if tok := c.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s %s: read body: %v", ErrNetwork, method, path, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	se := &StatusError{Method: method, Path: path, Status: resp.StatusCode, Message: errorMessage(data)}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		se.kind = ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		se.kind = ErrNotFound
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		se.kind = ErrValidation
	default:
		se.kind = ErrServer
	}
	return data, se
}

func applyOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func decode(data []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrServer, err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil {
		if eb.Message != "" {
			return eb.Message
		}
		return eb.Error
	}
	if len(data) > 200 {
		data = data[:200]
	}
	return strings.TrimSpace(string(data))
}
