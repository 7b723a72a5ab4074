package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// ErrScriptExhausted is returned when a ScriptedTransport runs out of steps
// and has no default.
var ErrScriptExhausted = errors.New("scripted transport: no more responses")

// Step is one scripted reply: either a body or an error.
type Step struct {
	Body []byte
	Err  error
}

// Status returns a step that fails with the given HTTP status.
func Status(code int) Step {
	return Step{Err: &APIError{StatusCode: code, Message: http.StatusText(code)}}
}

// JSON returns a successful step with body s.
func JSON(s string) Step {
	return Step{Body: []byte(s)}
}

// RequestLogEntry records a request made to the transport.
type RequestLogEntry struct {
	URL    string
	Header http.Header
}

// ScriptedTransport is an in-memory fake suitable for deterministic unit
// tests. Routes map a URL to its queue of steps; once a queue is drained the
// last step repeats. Unrouted URLs use Default.
type ScriptedTransport struct {
	mu         sync.Mutex
	routes     map[string][]Step
	Default    *Step
	RequestLog []RequestLogEntry
}

// NewScriptedTransport creates an empty scripted transport.
func NewScriptedTransport() *ScriptedTransport {
	return &ScriptedTransport{
		routes:     make(map[string][]Step),
		RequestLog: make([]RequestLogEntry, 0),
	}
}

// On appends steps for url.
func (t *ScriptedTransport) On(url string, steps ...Step) *ScriptedTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[url] = append(t.routes[url], steps...)
	return t
}

// RequestsMade returns the number of requests made to this transport.
func (t *ScriptedTransport) RequestsMade() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.RequestLog)
}

// RequestsTo returns the number of requests made to url.
func (t *ScriptedTransport) RequestsTo(url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.RequestLog {
		if r.URL == url {
			n++
		}
	}
	return n
}

// Reset clears routes and recorded requests.
func (t *ScriptedTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = make(map[string][]Step)
	t.RequestLog = make([]RequestLogEntry, 0)
}

// Get replays the next scripted step for url.
func (t *ScriptedTransport) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	t.mu.Lock()
	// Track the call for assertions in unit tests
	t.RequestLog = append(t.RequestLog, RequestLogEntry{URL: url, Header: header.Clone()})

	var step Step
	steps, ok := t.routes[url]
	switch {
	case ok && len(steps) > 1:
		step = steps[0]
		t.routes[url] = steps[1:]
	case ok && len(steps) == 1:
		step = steps[0]
	case t.Default != nil:
		step = *t.Default
	default:
		step = Step{Err: ErrScriptExhausted}
	}
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return append([]byte(nil), step.Body...), nil
}
