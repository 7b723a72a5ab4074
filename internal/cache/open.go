package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/colthorp/marketfeed-go/internal/core"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend       string
	Dir           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisExpiry   time.Duration
	SQLitePath    string
}

// Open returns the backend named by opts.Backend. An empty name selects the
// filesystem backend.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Backend, error) {
	switch opts.Backend {
	case "", core.BackendFilesystem:
		return NewFilesystemBackend(opts.Dir), nil
	case core.BackendMemory:
		return NewMemoryBackend(), nil
	case core.BackendRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis backend requires an address")
		}
		b, err := DialRedis(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.RedisExpiry, logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", opts.RedisAddr, err)
		}
		return b, nil
	case core.BackendSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = core.SQLitePath()
		}
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}
