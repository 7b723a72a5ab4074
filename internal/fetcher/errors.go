package fetcher

import "errors"

var (
	// ErrNetwork marks a connection failure or non-2xx status.
	ErrNetwork = errors.New("network error")

	// ErrMalformedPayload marks a 2xx body that is not usable JSON.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrCacheMiss marks the absence of a valid snapshot.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidRequest is the only error Fetch returns directly.
	ErrInvalidRequest = errors.New("invalid fetch request")
)
