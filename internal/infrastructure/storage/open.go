package storage

import (
	"context"

	"github.com/pkg/errors"
)

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Options selects and configures a backend for Open.
type Options struct {
	Driver        string
	RedisURL      string
	RedisPrefix   string
	PostgresDSN   string
	EncryptionKey string // when set, values are sealed before they reach the backend
}

// Open builds the configured Store. The returned close function releases the
// backend connection and is never nil.
func Open(ctx context.Context, opts Options) (Store, func() error, error) {
	var (
		store   Store
		closeFn = func() error { return nil }
	)

	switch opts.Driver {
	case DriverMemory, "":
		store = NewMemoryStore()

	case DriverRedis:
		client, err := NewRedisClient(ctx, opts.RedisURL)
		if err != nil {
			return nil, closeFn, err
		}
		store = NewRedisStore(client, opts.RedisPrefix)
		closeFn = client.Close

	case DriverPostgres:
		db, err := OpenPostgres(opts.PostgresDSN)
		if err != nil {
			return nil, closeFn, err
		}
		pg, err := NewPostgresStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, closeFn, err
		}
		store = pg
		closeFn = db.Close

	default:
		return nil, closeFn, errors.Errorf("unknown storage driver %q", opts.Driver)
	}

	if opts.EncryptionKey != "" {
		sealed, err := NewSealedStore(store, opts.EncryptionKey)
		if err != nil {
			closeFn()
			return nil, func() error { return nil }, err
		}
		store = sealed
	}

	return store, closeFn, nil
}
