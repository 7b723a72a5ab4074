// Package fetcher retrieves JSON resources over HTTP and shields callers from
// transient failures.
//
// A fetch cycle tries the endpoint up to Retries+1 times with exponential
// backoff. The first 2xx response with a usable JSON body is written to the
// snapshot cache and returned as Live. When every attempt fails the cycle
// falls back to an unexpired snapshot (Cached) and finally to the request's
// static payload (Fallback). Runtime failures never escape as errors; they
// are recorded in Result.Err.
//
// Overlapping cycles for identical requests are coalesced. The shared cycle
// runs detached from any one caller's context, so a caller that gives up
// does not cancel the network work the others are waiting on; it receives
// its own Cached or Fallback result instead.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/colthorp/marketfeed-go/internal/api"
	"github.com/colthorp/marketfeed-go/internal/cache"
)

// maxBackoff caps a single wait between attempts.
const maxBackoff = time.Hour

// defaultCycleTimeout bounds a shared cycle once it is detached from callers.
const defaultCycleTimeout = 5 * time.Minute

// NormalizeFunc checks a response body and returns the payload to cache.
// Returning an error marks the attempt as a malformed payload.
type NormalizeFunc func(body []byte) ([]byte, error)

// Mirror is a secondary endpoint tried after the primary endpoint has
// exhausted its retries. It shares the request's backoff base.
type Mirror struct {
	Endpoint  string
	Retries   int
	Normalize NormalizeFunc
}

// Request describes one fetch-with-fallback cycle.
type Request struct {
	Endpoint    string
	Header      http.Header
	CacheKey    string
	TTL         time.Duration
	Retries     int
	BackoffBase time.Duration
	Fallback    json.RawMessage

	// Normalize validates and reshapes the primary endpoint's body.
	Normalize NormalizeFunc

	// Mirrors are tried in order once the primary endpoint has failed.
	Mirrors []Mirror

	// CacheFirst returns an unexpired snapshot without any network call.
	CacheFirst bool
}

// Validate reports whether the request can be executed.
func (r Request) Validate() error {
	if err := validateEndpoint(r.Endpoint); err != nil {
		return err
	}
	if r.CacheKey == "" {
		return fmt.Errorf("%w: cache key is required", ErrInvalidRequest)
	}
	if r.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidRequest)
	}
	if r.TTL < time.Millisecond {
		return fmt.Errorf("%w: ttl must be at least 1ms", ErrInvalidRequest)
	}
	if r.Retries < 0 {
		return fmt.Errorf("%w: retries must not be negative", ErrInvalidRequest)
	}
	if r.BackoffBase <= 0 {
		return fmt.Errorf("%w: backoff base must be positive", ErrInvalidRequest)
	}
	if !json.Valid(r.Fallback) {
		return fmt.Errorf("%w: fallback must be valid JSON", ErrInvalidRequest)
	}
	for i, m := range r.Mirrors {
		if err := validateEndpoint(m.Endpoint); err != nil {
			return fmt.Errorf("mirror %d: %w", i, err)
		}
		if m.Retries < 0 {
			return fmt.Errorf("%w: mirror %d retries must not be negative", ErrInvalidRequest, i)
		}
	}
	return nil
}

// flightKey identifies requests that may share one cycle. Requests under the
// same cache key with different sources or fallbacks run separately.
// Normalize funcs cannot be compared; callers sharing a cache key and
// endpoint are expected to normalize the same way.
func (r Request) flightKey() string {
	var b strings.Builder
	b.WriteString(r.CacheKey)
	for _, part := range []string{
		r.Endpoint,
		strconv.Itoa(r.Retries),
		r.BackoffBase.String(),
		r.TTL.String(),
		strconv.FormatBool(r.CacheFirst),
	} {
		b.WriteByte(0)
		b.WriteString(part)
	}
	for _, m := range r.Mirrors {
		b.WriteByte(0)
		b.WriteString(m.Endpoint)
		b.WriteByte(0)
		b.WriteString(strconv.Itoa(m.Retries))
	}
	b.WriteByte(0)
	b.Write(r.Fallback)
	return b.String()
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidRequest)
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: endpoint %q is not an absolute URL", ErrInvalidRequest, endpoint)
	}
	return nil
}

// Options configures a Fetcher. Transport and Backend are required.
type Options struct {
	Transport api.Transport
	Backend   cache.Backend
	Logger    *zap.Logger
	Metrics   *Metrics

	// CycleTimeout bounds a shared cycle. Default is five minutes.
	CycleTimeout time.Duration

	// Now and Sleep default to the wall clock; tests replace them.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Fetcher runs fetch-with-fallback cycles against one transport and one
// snapshot backend.
type Fetcher struct {
	transport api.Transport
	backend   cache.Backend
	logger    *zap.Logger
	metrics   *Metrics
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	timeout   time.Duration
	group     singleflight.Group
}

// New creates a Fetcher.
func New(opts Options) (*Fetcher, error) {
	if opts.Transport == nil {
		return nil, errors.New("fetcher: nil transport")
	}
	if opts.Backend == nil {
		return nil, errors.New("fetcher: nil backend")
	}
	f := &Fetcher{
		transport: opts.Transport,
		backend:   opts.Backend,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
		sleep:     opts.Sleep,
		timeout:   opts.CycleTimeout,
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	if f.now == nil {
		f.now = time.Now
	}
	if f.sleep == nil {
		f.sleep = sleepContext
	}
	if f.timeout <= 0 {
		f.timeout = defaultCycleTimeout
	}
	return f, nil
}

// Fetch runs one cycle for req. The error is non-nil only when req is
// invalid; otherwise the Result is always usable.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	// Nothing to wait for; settle on the caller's own terms.
	if ctx.Err() != nil {
		return f.cycle(ctx, req), nil
	}

	ch := f.group.DoChan(req.flightKey(), func() (interface{}, error) {
		cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()
		return f.cycle(cycleCtx, req), nil
	})

	select {
	case r := <-ch:
		res := r.Val.(Result)
		if r.Shared {
			f.logger.Debug("joined in-flight fetch", zap.String("key", req.CacheKey), zap.Stringer("kind", res.Kind))
		}
		return res, nil
	case <-ctx.Done():
		log := f.logger.With(zap.String("key", req.CacheKey))
		log.Debug("caller left in-flight fetch", zap.Error(ctx.Err()))
		return f.settle(ctx, req, 0, ctx.Err(), log), nil
	}
}

// Peek returns the unexpired snapshot under key as a Cached result without
// touching the network.
func (f *Fetcher) Peek(ctx context.Context, key string, ttl time.Duration) (Result, bool) {
	snap := f.loadSnapshot(ctx, key, ttl)
	if snap == nil {
		return Result{}, false
	}
	return Cached(snap.Payload, snap.FetchedAt(), snap.Age(f.now())), true
}

type source struct {
	endpoint  string
	retries   int
	normalize NormalizeFunc
}

func (f *Fetcher) cycle(ctx context.Context, req Request) Result {
	log := f.logger.With(zap.String("key", req.CacheKey))
	start := f.now()

	if req.CacheFirst {
		if res, ok := f.Peek(ctx, req.CacheKey, req.TTL); ok {
			log.Debug("serving fresh snapshot", zap.Duration("age", res.Age))
			f.metrics.observeResult(KindCached)
			return res
		}
	}

	sources := make([]source, 0, 1+len(req.Mirrors))
	sources = append(sources, source{req.Endpoint, req.Retries, req.Normalize})
	for _, m := range req.Mirrors {
		sources = append(sources, source{m.Endpoint, m.Retries, m.Normalize})
	}

	attempts := 0
	var errs []error
	for _, src := range sources {
		payload, n, err := f.fetchSource(ctx, req, src, log)
		attempts += n
		if err == nil {
			fetchedAt := f.now()
			f.saveSnapshot(ctx, req.CacheKey, payload, fetchedAt, log)
			f.metrics.observeResult(KindLive)
			f.metrics.observeLive(fetchedAt.Sub(start).Seconds())
			log.Debug("live fetch succeeded", zap.Int("attempts", attempts))

			res := Live(payload, fetchedAt)
			res.Attempts = attempts
			return res
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return f.settle(ctx, req, attempts, errors.Join(errs...), log)
}

// settle serves the unexpired snapshot for req, or its fallback payload, once
// live data is out of reach.
func (f *Fetcher) settle(ctx context.Context, req Request, attempts int, liveErr error, log *zap.Logger) Result {
	// The caller may have given up on the network; storage still gets a say.
	storeCtx := context.WithoutCancel(ctx)
	if snap := f.loadSnapshot(storeCtx, req.CacheKey, req.TTL); snap != nil {
		res := Cached(snap.Payload, snap.FetchedAt(), snap.Age(f.now()))
		res.Attempts = attempts
		res.Err = liveErr
		f.metrics.observeResult(KindCached)
		log.Warn("live fetch failed; using cached snapshot",
			zap.Duration("age", res.Age), zap.Int("attempts", attempts), zap.Error(liveErr))
		return res
	}

	res := Fallback(req.Fallback, errors.Join(liveErr, ErrCacheMiss))
	res.Attempts = attempts
	f.metrics.observeResult(KindFallback)
	log.Warn("live fetch failed and no cached snapshot; using demo data",
		zap.Int("attempts", attempts), zap.Error(liveErr))
	return res
}

// fetchSource makes up to src.retries+1 sequential attempts. Waits between
// attempts follow BackoffBase * 2^n for the n-th failed attempt (0-based).
func (f *Fetcher) fetchSource(ctx context.Context, req Request, src source, log *zap.Logger) (json.RawMessage, int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = req.BackoffBase
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxBackoff
	b.Reset()

	var lastErr error
	for attempt := 0; attempt <= src.retries; attempt++ {
		if attempt > 0 {
			wait := b.NextBackOff()
			log.Debug("retrying", zap.Int("attempt", attempt+1), zap.Duration("wait", wait))
			if err := f.sleep(ctx, wait); err != nil {
				return nil, attempt, errors.Join(lastErr, err)
			}
		}

		body, err := f.transport.Get(ctx, src.endpoint, req.Header)
		if err != nil {
			lastErr = fmt.Errorf("%w: %s attempt %d: %w", ErrNetwork, src.endpoint, attempt+1, err)
			f.metrics.observeAttempt("network_error")
			log.Debug("attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		payload, err := parsePayload(body, src.normalize)
		if err != nil {
			lastErr = fmt.Errorf("%w: %s attempt %d: %w", ErrMalformedPayload, src.endpoint, attempt+1, err)
			f.metrics.observeAttempt("malformed")
			log.Debug("attempt returned malformed payload", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		f.metrics.observeAttempt("ok")
		return payload, attempt + 1, nil
	}
	return nil, src.retries + 1, lastErr
}

// parsePayload checks that body is JSON, applies normalize, and returns the
// compacted result so live and cached payloads are byte-identical.
func parsePayload(body []byte, normalize NormalizeFunc) (json.RawMessage, error) {
	if !json.Valid(body) {
		return nil, errors.New("response body is not valid JSON")
	}
	if normalize != nil {
		out, err := normalize(body)
		if err != nil {
			return nil, err
		}
		if !json.Valid(out) {
			return nil, errors.New("normalized payload is not valid JSON")
		}
		body = out
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}

func (f *Fetcher) loadSnapshot(ctx context.Context, key string, ttl time.Duration) *cache.Snapshot {
	snap, err := cache.LoadSnapshot(ctx, f.backend, key, ttl, f.now())
	if err != nil {
		f.logger.Warn("snapshot read failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	return snap
}

func (f *Fetcher) saveSnapshot(ctx context.Context, key string, payload json.RawMessage, fetchedAt time.Time, log *zap.Logger) {
	err := cache.SaveSnapshot(context.WithoutCancel(ctx), f.backend, key, payload, fetchedAt)
	f.metrics.observeWrite(err == nil)
	if err != nil {
		log.Warn("snapshot write failed", zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
