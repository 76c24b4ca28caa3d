package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"courier-client/internal/api"
	"courier-client/internal/storage"
	"courier-client/pkg/jwt"
)

// TokenKey is the secret-store key holding the bearer credential.
const TokenKey = "auth_token"

// Store keeps the bearer credential in the device secret store.
type Store struct {
	secrets storage.Store
	log     *slog.Logger
	now     func() time.Time
}

func NewStore(secrets storage.Store, log *slog.Logger) *Store {
	return &Store{secrets: secrets, log: log.With("component", "session_store"), now: time.Now}
}

// Get returns the stored credential. Unreadable and expired credentials are
// reported as absent.
func (s *Store) Get(ctx context.Context) (string, bool) {
	data, err := s.secrets.Get(ctx, TokenKey)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false
	}
	if err != nil {
		s.log.Warn("stored credential unreadable, treating as signed out", "error", err)
		return "", false
	}
	token := string(data)
	if token == "" {
		return "", false
	}
	if jwt.Expired(token, s.now()) {
		s.log.Info("stored credential expired")
		if err := s.secrets.Delete(ctx, TokenKey); err != nil {
			s.log.Warn("failed to drop expired credential", "error", err)
		}
		return "", false
	}
	return token, true
}

func (s *Store) Set(ctx context.Context, token string) error {
	if err := s.secrets.Set(ctx, TokenKey, []byte(token)); err != nil {
		return fmt.Errorf("%w: %v", api.ErrStorage, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.secrets.Delete(ctx, TokenKey); err != nil {
		return fmt.Errorf("%w: %v", api.ErrStorage, err)
	}
	return nil
}
