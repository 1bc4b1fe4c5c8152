// Package dao defines the storage contract measure snapshots are persisted
// through, together with the sentinel errors and listing criteria every
// store implementation shares.
package dao

import (
	"context"
)

// Service is a generic key/entity store. List accepts optional criteria
// interpreted by the implementation.
type Service[K comparable, T any] interface {
	Save(ctx context.Context, t *T) error

	Load(ctx context.Context, id K) (*T, error)

	Delete(ctx context.Context, id K) error

	List(ctx context.Context, parameters ...*Parameter) ([]*T, error)
}
