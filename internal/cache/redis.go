package cache

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var nopLogger = zap.NewNop()

// RedisOptions configures a RedisBackend.
type RedisOptions struct {
	// Client cannot be nil.
	Client redis.Cmdable

	// ClientCloser closes Client when RedisBackend.Close is called.
	// Optional.
	ClientCloser io.Closer

	// Prefix is prepended to every key. Default is "marketfeed:".
	Prefix string

	// Timeout bounds each read and write. Default is one second.
	Timeout time.Duration

	// Expiry sets a Redis TTL on written keys so abandoned snapshots are
	// reclaimed. Zero keeps keys forever; snapshot validity is still
	// enforced on read.
	Expiry time.Duration

	// Logger is the *zap.Logger for this backend.
	// A nil Logger will disable logging.
	Logger *zap.Logger
}

func (opts *RedisOptions) init() error {
	if opts.Client == nil {
		return errors.New("nil redis client")
	}
	if opts.Prefix == "" {
		opts.Prefix = "marketfeed:"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

// RedisBackend stores snapshots as plain Redis strings.
type RedisBackend struct {
	opts RedisOptions
}

// NewRedisBackend creates a Redis-backed cache.
func NewRedisBackend(opts RedisOptions) (*RedisBackend, error) {
	if err := opts.init(); err != nil {
		return nil, err
	}
	return &RedisBackend{opts: opts}, nil
}

// DialRedis connects to addr and returns a backend that owns the client.
// A positive expiry is applied to every written key.
func DialRedis(ctx context.Context, addr, password string, db int, expiry time.Duration, logger *zap.Logger) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisBackend(RedisOptions{
		Client:       client,
		ClientCloser: client,
		Expiry:       expiry,
		Logger:       logger,
	})
}

func (r *RedisBackend) key(key string) string {
	return r.opts.Prefix + key
}

// Get returns the value stored under key.
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	b, err := r.opts.Client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		r.opts.Logger.Warn("redis get", zap.String("key", key), zap.Error(err))
		return nil, false, err
	}
	return b, true, nil
}

// Set stores value under key.
func (r *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	if err := r.opts.Client.Set(ctx, r.key(key), value, r.opts.Expiry).Err(); err != nil {
		r.opts.Logger.Warn("redis set", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Delete removes key.
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	if err := r.opts.Client.Del(ctx, r.key(key)).Err(); err != nil {
		r.opts.Logger.Warn("redis del", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Keys scans for keys under the backend's prefix.
func (r *RedisBackend) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	var keys []string
	iter := r.opts.Client.Scan(ctx, 0, r.opts.Prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.opts.Prefix))
	}
	if err := iter.Err(); err != nil {
		r.opts.Logger.Warn("redis scan", zap.Error(err))
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the redis client if the backend owns it.
func (r *RedisBackend) Close() error {
	if f := r.opts.ClientCloser; f != nil {
		return f.Close()
	}
	return nil
}
