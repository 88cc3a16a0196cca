// Package storage provides the durable key/value persistence used to mirror
// a session's state between process runs.
package storage

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get when the key has never been set or was removed.
var ErrNotFound = errors.New("storage: key not found")

// Store is a durable key/value store. Values are opaque bytes; use GetJSON
// and SetJSON for JSON-serializable values.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// GetJSON decodes the value stored under key into dest. It reports false
// without error when the key does not exist.
func GetJSON(ctx context.Context, s Store, key string, dest any) (bool, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, errors.Wrapf(err, "decode %q", key)
	}
	return true, nil
}

// SetJSON encodes value as JSON and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode %q", key)
	}
	return s.Set(ctx, key, raw)
}

// Key joins parts into a namespaced key such as "banklink:user-1:accounts".
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
