package storage

import (
	"context"
	"errors"

	"courier-client/pkg/db"
	rredis "courier-client/pkg/redis"
)

// Redis adapts the redis client to Store.
type Redis struct {
	c *rredis.Client
}

func NewRedis(c *rredis.Client) *Redis { return &Redis{c: c} }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.c.Get(ctx, key)
	if errors.Is(err, rredis.ErrNil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return r.c.Set(ctx, key, value)
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.c.Delete(ctx, key)
}

// Postgres adapts the local_kv table to Store.
type Postgres struct {
	d *db.DB
}

func NewPostgres(d *db.DB) *Postgres { return &Postgres{d: d} }

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := p.d.GetValue(ctx, key)
	if errors.Is(err, db.ErrNoValue) {
		return nil, ErrNotFound
	}
	return v, err
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte) error {
	return p.d.PutValue(ctx, key, value)
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	return p.d.DeleteValue(ctx, key)
}
