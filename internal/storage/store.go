// Package storage provides the shared pattern store used by cmdintel.
// Records are opaque JSON blobs grouped by namespace, each carrying a
// store-maintained frequency counter that supports atomic increments and
// frequency-ordered eviction.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Namespace partitions the key space between record owners.
type Namespace string

// Namespaces persisted by the engine.
const (
	NSPattern         Namespace = "pattern"
	NSWorkflowNode    Namespace = "workflow_node"
	NSWorkflowPattern Namespace = "workflow_pattern"
	NSErrorPattern    Namespace = "error_pattern"
	NSSession         Namespace = "session"
)

var (
	// ErrNotFound is returned when a key does not exist in a namespace.
	ErrNotFound = errors.New("storage: record not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("storage: store closed")

	// ErrMalformedRecord wraps decode failures of stored values.
	ErrMalformedRecord = errors.New("storage: malformed record")
)

// Record is a single stored value.
type Record struct {
	Key       string
	Value     []byte
	Frequency int64
	UpdatedAt int64 // unix nanoseconds of the last write
}

// Store defines the operations every backend provides.
// Only single-key operations are atomic.
type Store interface {
	// Get returns the record for key or ErrNotFound.
	Get(ctx context.Context, ns Namespace, key string) (*Record, error)

	// Put writes value, creating the record with frequency 0 if needed.
	// The frequency counter is left unchanged.
	Put(ctx context.Context, ns Namespace, key string, value []byte) error

	// Incr atomically adds delta to the frequency counter and returns the
	// new value. A missing record is created with an empty value.
	Incr(ctx context.Context, ns Namespace, key string, delta int64) (int64, error)

	// SetFrequency overwrites the frequency counter of an existing record.
	SetFrequency(ctx context.Context, ns Namespace, key string, freq int64) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, ns Namespace, key string) error

	// Scan returns all records in ns, highest frequency first, most
	// recently updated first among equals.
	Scan(ctx context.Context, ns Namespace) ([]Record, error)

	// Count returns the number of records in ns.
	Count(ctx context.Context, ns Namespace) (int, error)

	// Prune keeps the keep highest-frequency records in ns and deletes the
	// rest, evicting the least recently updated among ties. It returns the
	// number of deleted records.
	Prune(ctx context.Context, ns Namespace, keep int) (int64, error)

	// Close releases resources. It is safe to call Close multiple times.
	Close() error
}

// GetJSON loads key and decodes its value into v. It returns the record's
// frequency. A record whose value is empty (created by Incr) leaves v
// untouched.
func GetJSON(ctx context.Context, s Store, ns Namespace, key string, v any) (int64, error) {
	rec, err := s.Get(ctx, ns, key)
	if err != nil {
		return 0, err
	}
	if len(rec.Value) == 0 {
		return rec.Frequency, nil
	}
	if err := json.Unmarshal(rec.Value, v); err != nil {
		return rec.Frequency, fmt.Errorf("%w: %s/%s: %v", ErrMalformedRecord, ns, key, err)
	}
	return rec.Frequency, nil
}

// PutJSON encodes v and writes it under key.
func PutJSON(ctx context.Context, s Store, ns Namespace, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", ns, key, err)
	}
	return s.Put(ctx, ns, key, data)
}
