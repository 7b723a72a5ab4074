// Package api provides the HTTP transport used by the market-data feeds.
package api

import (
	"context"
	"net/http"
)

// Transport performs a single GET and returns the response body of a 2xx
// response. Non-2xx responses are reported as *APIError. Retrying is the
// caller's job.
type Transport interface {
	Get(ctx context.Context, url string, header http.Header) ([]byte, error)
}
