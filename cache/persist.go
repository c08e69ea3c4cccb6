package cache

import (
	"context"
	"time"
)

// Record is a persisted snapshot.
type Record struct {
	Version   uint64    `json:"version"`
	FetchedAt time.Time `json:"fetched_at"`
	Data      []byte    `json:"data"`
}

// Persister stores last-known-good snapshots across process restarts. Only
// authoritative snapshots are saved, never optimistic ones.
type Persister interface {
	Save(ctx context.Context, key Key, rec Record) error
	// Load returns false when nothing is stored for key.
	Load(ctx context.Context, key Key) (Record, bool, error)
}
