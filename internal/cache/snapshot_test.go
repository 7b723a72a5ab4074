package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	fetchedAt := time.Date(2024, 7, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, SaveSnapshot(ctx, backend, "ticker", json.RawMessage(`[1,2,3]`), fetchedAt))

	s, err := LoadSnapshot(ctx, backend, "ticker", 10*time.Minute, fetchedAt.Add(5*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.JSONEq(t, `[1,2,3]`, string(s.Payload))
	assert.Equal(t, fetchedAt.UnixMilli(), s.FetchedAtEpochMillis)
	assert.Equal(t, 5*time.Minute, s.Age(fetchedAt.Add(5*time.Minute)))
}

func TestSnapshotExpiredBelowMillisecond(t *testing.T) {
	fetchedAt := time.Date(2024, 7, 15, 10, 0, 0, 0, time.UTC)
	s := &Snapshot{FetchedAtEpochMillis: fetchedAt.UnixMilli(), Payload: json.RawMessage(`1`)}

	assert.False(t, s.Expired(fetchedAt, 500*time.Microsecond))
	assert.False(t, s.Expired(fetchedAt.Add(499*time.Microsecond), 500*time.Microsecond))
	assert.True(t, s.Expired(fetchedAt.Add(500*time.Microsecond), 500*time.Microsecond))
}

func TestLoadSnapshotDeletesExpired(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	fetchedAt := time.Date(2024, 7, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, SaveSnapshot(ctx, backend, "ticker", json.RawMessage(`{"a":1}`), fetchedAt))

	// Exactly TTL old is already stale.
	s, err := LoadSnapshot(ctx, backend, "ticker", time.Minute, fetchedAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, s)

	_, ok, _ := backend.Get(ctx, "ticker")
	assert.False(t, ok, "expired snapshot should be deleted on read")
}

func TestLoadSnapshotKeepsFreshEntry(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	fetchedAt := time.Date(2024, 7, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, SaveSnapshot(ctx, backend, "ticker", json.RawMessage(`{"a":1}`), fetchedAt))

	s, err := LoadSnapshot(ctx, backend, "ticker", time.Minute, fetchedAt.Add(59*time.Second))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 1, backend.Len())
}

func TestLoadSnapshotDeletesCorrupt(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	backend.Seed(map[string][]byte{"bad": []byte("not json")})

	s, err := LoadSnapshot(ctx, backend, "bad", time.Minute, time.Now())
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, 0, backend.Len())
}

func TestLoadSnapshotMiss(t *testing.T) {
	s, err := LoadSnapshot(context.Background(), NewMemoryBackend(), "missing", time.Minute, time.Now())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestDecodeSnapshotLegacyFormats(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		payload string
		wantErr bool
	}{
		{"ticker assets", `{"timestamp":1721039400000,"assets":[{"symbol":"btc"}]}`, `[{"symbol":"btc"}]`, false},
		{"stock tracker", `{"timestamp":1721039400000,"stocks":[{"symbol":"AAPL"}]}`, `[{"symbol":"AAPL"}]`, false},
		{"sparkline data", `{"timestamp":1721039400000,"data":[1,2,3]}`, `[1,2,3]`, false},
		{"no timestamp", `{"data":[1,2,3]}`, "", true},
		{"no payload", `{"timestamp":1721039400000}`, "", true},
		{"array", `[1,2,3]`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := DecodeSnapshot([]byte(tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrCorruptSnapshot)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(1721039400000), s.FetchedAtEpochMillis)
			assert.JSONEq(t, tt.payload, string(s.Payload))
		})
	}
}

func TestEncodeSnapshotRejectsInvalidPayload(t *testing.T) {
	_, err := EncodeSnapshot(&Snapshot{FetchedAtEpochMillis: 1, Payload: json.RawMessage(`{`)})
	assert.ErrorIs(t, err, ErrCorruptSnapshot)

	_, err = EncodeSnapshot(&Snapshot{FetchedAtEpochMillis: 1})
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestSnapshotAgeNeverNegative(t *testing.T) {
	s := &Snapshot{FetchedAtEpochMillis: time.Now().Add(time.Hour).UnixMilli()}
	assert.Equal(t, time.Duration(0), s.Age(time.Now()))
}
