package fetcher

import (
	"encoding/json"
	"time"
)

// Kind tags which variant a Result holds.
type Kind int

const (
	// KindLive means the payload came from the network during this cycle.
	KindLive Kind = iota + 1
	// KindCached means the network failed and an unexpired snapshot was used.
	KindCached
	// KindFallback means neither live nor cached data was available and the
	// static demo payload was returned.
	KindFallback
)

func (k Kind) String() string {
	switch k {
	case KindLive:
		return "live"
	case KindCached:
		return "cached"
	case KindFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Result is the outcome of one fetch cycle. Exactly one Kind is set.
// Payload is shared between callers coalesced onto the same cycle and must
// be treated as read-only.
type Result struct {
	Kind    Kind
	Payload json.RawMessage

	// FetchedAt is when the payload was fetched: now for Live, the snapshot
	// timestamp for Cached, zero for Fallback.
	FetchedAt time.Time

	// Age is how old a Cached payload is. Zero for other kinds.
	Age time.Duration

	// Attempts counts the HTTP requests made during the cycle.
	Attempts int

	// Err records why live data was not used. It is informational only;
	// a Result with a non-nil Err is still usable.
	Err error
}

// Live builds a Live result.
func Live(payload json.RawMessage, fetchedAt time.Time) Result {
	return Result{Kind: KindLive, Payload: payload, FetchedAt: fetchedAt}
}

// Cached builds a Cached result.
func Cached(payload json.RawMessage, fetchedAt time.Time, age time.Duration) Result {
	return Result{Kind: KindCached, Payload: payload, FetchedAt: fetchedAt, Age: age}
}

// Fallback builds a Fallback result carrying the absorbed cause.
func Fallback(payload json.RawMessage, cause error) Result {
	return Result{Kind: KindFallback, Payload: payload, Err: cause}
}

func (r Result) IsLive() bool     { return r.Kind == KindLive }
func (r Result) IsCached() bool   { return r.Kind == KindCached }
func (r Result) IsFallback() bool { return r.Kind == KindFallback }

// Decode unmarshals the payload into v.
func (r Result) Decode(v any) error {
	return json.Unmarshal(r.Payload, v)
}
