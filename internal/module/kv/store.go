// Package kv provides the key-value persistence behind quota records,
// history sequences and sessions. Values are JSON documents.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("kv: key not found")
	// ErrConflict is returned when an optimistic update kept losing races.
	ErrConflict = errors.New("kv: concurrent update conflict")
)

// UpdateFunc receives the current value (nil when absent) and returns the
// value to store. Returning a nil value leaves the key untouched. It may be
// invoked more than once by optimistic backends and must be pure.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is a string-keyed byte store with an atomic read-modify-write.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}

// Namespaces of persisted documents.
const (
	NamespaceQuota   = "quota"
	NamespaceHistory = "history"
	NamespaceSession = "session"
)

// Keyspace builds per-identity keys such as "cosplay_quota_<identity>".
type Keyspace struct {
	prefix string
}

// NewKeyspace creates a Keyspace with the given prefix.
func NewKeyspace(prefix string) Keyspace {
	return Keyspace{prefix: prefix}
}

// Key returns the storage key of namespace for identity.
func (k Keyspace) Key(namespace, identity string) string {
	return k.prefix + namespace + "_" + identity
}

// GetJSON loads key into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON stores v under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// UpdateJSON atomically transforms the document stored at key. fn receives
// nil when the key is absent; returning nil skips the write.
func UpdateJSON[T any](ctx context.Context, s Store, key string, fn func(current *T) (*T, error)) error {
	return s.Update(ctx, key, func(raw []byte) ([]byte, error) {
		var current *T
		if raw != nil {
			current = new(T)
			if err := json.Unmarshal(raw, current); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
		}

		next, err := fn(current)
		if err != nil || next == nil {
			return nil, err
		}

		out, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		return out, nil
	})
}
