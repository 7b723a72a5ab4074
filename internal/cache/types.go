// Package cache provides snapshot storage for the market-data feeds.
//
// # Overview
//
// Every feed persists its last successful payload as a Snapshot under a
// string key. Storage is a plain byte-oriented key-value Backend so the same
// snapshot can live in memory, on disk, in Redis or in SQLite.
//
// # Snapshot Format
//
//	{
//	  "fetchedAtEpochMillis": 1721039400123,
//	  "payload": [...]
//	}
//
// # Validity Rules
//
// A snapshot is valid only while now - fetchedAtEpochMillis < TTL. Expired
// snapshots are deleted when read, as are entries that no longer decode.
//
// The legacy browser-cache shape written by the old dashboard widgets,
// {"timestamp": ms, "data"|"assets"|"stocks": ...}, is still accepted on read.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/colthorp/marketfeed-go/internal/core"
)

// Snapshot is a cached payload plus the time it was fetched.
type Snapshot struct {
	FetchedAtEpochMillis int64           `json:"fetchedAtEpochMillis"`
	Payload              json.RawMessage `json:"payload"`
}

// FetchedAt returns the fetch timestamp as a time.Time.
func (s *Snapshot) FetchedAt() time.Time {
	return core.FromMillis(s.FetchedAtEpochMillis)
}

// Age returns how old the snapshot is at now. Clock skew never yields a
// negative age.
func (s *Snapshot) Age(now time.Time) time.Duration {
	age := now.Sub(s.FetchedAt())
	if age < 0 {
		return 0
	}
	return age
}

// Expired reports whether the snapshot is at least ttl old at now.
func (s *Snapshot) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.FetchedAt()) >= ttl
}

// Backend is the interface for snapshot storage backends.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the stored bytes for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists the stored keys in ascending order.
	Keys(ctx context.Context) ([]string, error)

	// Close releases any resources held by the backend.
	Close() error
}
