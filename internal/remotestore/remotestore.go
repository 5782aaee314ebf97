// Package remotestore is the read-only view of the external record store
// used by referential, uniqueness and existence checks. The pipeline never
// mutates the record store; that stays with the caller.
package remotestore

import (
	"context"
	"errors"
)

// ErrUnavailable marks a check that could not reach the record store.
var ErrUnavailable = errors.New("record store unavailable")

type Store interface {
	// Count returns how many records of entityType have field equal to value.
	Count(ctx context.Context, entityType, field string, value any) (int64, error)
	// Exists reports whether any record of entityType matches every filter field.
	Exists(ctx context.Context, entityType string, filter map[string]any) (bool, error)
}
