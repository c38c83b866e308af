package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStorageUnavailable wraps every read/write failure of the backing store.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidID          = errors.New("invalid event id")
)

const DefaultPath = "earthquake_ids.txt"

// Config configures storage.
//
// Driver values:
//   - "file" (default): newline-delimited text file
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// IDSet is a set of event ids.
type IDSet map[string]struct{}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Add(id string) { s[id] = struct{}{} }

func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// DedupStore is the grow-only record of published ids.
type DedupStore interface {
	// Load reads every recorded id into the mirror and returns a copy of it.
	// A missing backing file is an empty store.
	Load(ctx context.Context) (IDSet, error)
	Has(id string) bool
	// Record adds id to the mirror and durably persists it before returning.
	// On failure the id stays in the mirror.
	Record(ctx context.Context, id string) error
	Len() int
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}
