// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"homedash/internal/model"
)

// ErrNotFound is returned by Get when the key has no stored value.
var ErrNotFound = errors.New("storage: key not found")

// Storage is a small key-value store plus named id sets.
// Values are opaque strings, typically JSON.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error

	AddIDs(ctx context.Context, set string, ids ...string) error
	RemoveIDs(ctx context.Context, set string, ids ...string) error
	ClearIDs(ctx context.Context, set string) error
	IDs(ctx context.Context, set string) (model.IDSet, error)
	PruneIDs(ctx context.Context, set string, before time.Time) (int64, error)

	Close() error
}
