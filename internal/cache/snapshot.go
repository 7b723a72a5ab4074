package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/colthorp/marketfeed-go/internal/core"
)

// ErrCorruptSnapshot is returned by DecodeSnapshot for unreadable entries.
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// legacySnapshot is the shape the browser widgets wrote to local storage.
type legacySnapshot struct {
	Timestamp *int64          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Assets    json.RawMessage `json:"assets"`
	Stocks    json.RawMessage `json:"stocks"`
}

// EncodeSnapshot serialises s for storage.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	if len(s.Payload) == 0 || !json.Valid(s.Payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrCorruptSnapshot)
	}
	return json.Marshal(s)
}

// DecodeSnapshot parses stored bytes, accepting both the current format and
// the legacy browser format.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	if _, ok := fields["fetchedAtEpochMillis"]; ok {
		var s Snapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
		if len(s.Payload) == 0 || string(s.Payload) == "null" {
			return nil, fmt.Errorf("%w: missing payload", ErrCorruptSnapshot)
		}
		return &s, nil
	}

	// Try legacy format
	var legacy legacySnapshot
	if err := json.Unmarshal(data, &legacy); err != nil || legacy.Timestamp == nil {
		return nil, fmt.Errorf("%w: unrecognised layout", ErrCorruptSnapshot)
	}
	for _, payload := range []json.RawMessage{legacy.Data, legacy.Assets, legacy.Stocks} {
		if len(payload) > 0 && string(payload) != "null" {
			return &Snapshot{FetchedAtEpochMillis: *legacy.Timestamp, Payload: payload}, nil
		}
	}
	return nil, fmt.Errorf("%w: legacy entry has no payload", ErrCorruptSnapshot)
}

// LoadSnapshot returns the snapshot stored under key if it is still valid at
// now. Expired and corrupt entries are deleted and reported as absent.
// A nil snapshot with a nil error means a cache miss.
func LoadSnapshot(ctx context.Context, b Backend, key string, ttl time.Duration, now time.Time) (*Snapshot, error) {
	data, ok, err := b.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %q: %w", key, err)
	}
	if !ok {
		return nil, nil
	}

	s, err := DecodeSnapshot(data)
	if err != nil {
		if delErr := b.Delete(ctx, key); delErr != nil {
			return nil, fmt.Errorf("delete corrupt snapshot %q: %w", key, delErr)
		}
		return nil, nil
	}

	if s.Expired(now, ttl) {
		if err := b.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("delete expired snapshot %q: %w", key, err)
		}
		return nil, nil
	}
	return s, nil
}

// SaveSnapshot stores payload under key stamped with fetchedAt.
func SaveSnapshot(ctx context.Context, b Backend, key string, payload json.RawMessage, fetchedAt time.Time) error {
	data, err := EncodeSnapshot(&Snapshot{
		FetchedAtEpochMillis: core.ToMillis(fetchedAt),
		Payload:              payload,
	})
	if err != nil {
		return err
	}
	if err := b.Set(ctx, key, data); err != nil {
		return fmt.Errorf("write snapshot %q: %w", key, err)
	}
	return nil
}
