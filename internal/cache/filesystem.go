package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/colthorp/marketfeed-go/internal/core"
)

// maxNameLen keeps escaped names, plus the ".json" suffix, inside the
// 255-byte file name limit of common filesystems.
const maxNameLen = 200

// FilesystemBackend stores one JSON file per key on disk.
// Layout: <root>/<escaped key>.json
//
// Keys whose escaped form exceeds maxNameLen are stored as a truncated
// prefix plus "~" and a hash of the full key.
type FilesystemBackend struct {
	root      string
	writeLock sync.Mutex
}

// NewFilesystemBackend creates a new filesystem-based cache backend.
func NewFilesystemBackend(root string) *FilesystemBackend {
	if root == "" {
		root = core.CacheRoot()
	}
	return &FilesystemBackend{root: root}
}

// Path returns the filesystem path for the given key.
func (b *FilesystemBackend) Path(key string) string {
	name := url.PathEscape(key)
	// PathEscape leaves dots alone; keep keys from walking out of root.
	name = strings.ReplaceAll(name, "..", "%2E%2E")
	if len(name) > maxNameLen {
		name = abbreviate(name, key)
	}
	return filepath.Join(b.root, name+".json")
}

func abbreviate(name, key string) string {
	sum := sha256.Sum256([]byte(key))
	suffix := "~" + hex.EncodeToString(sum[:8])
	prefix := name[:maxNameLen-len(suffix)]
	// Do not split a %XX escape.
	if i := strings.LastIndexByte(prefix, '%'); i >= len(prefix)-2 {
		prefix = prefix[:i]
	}
	return prefix + suffix
}

// Get reads the file for key.
func (b *FilesystemBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(b.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache file: %w", err)
	}
	return data, true, nil
}

// Set persists value atomically.
func (b *FilesystemBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := b.Path(key)

	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	// Write to a unique temp file first, then rename (atomic)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Delete removes the file for key.
func (b *FilesystemBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	err := os.Remove(b.Path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Close is a no-op.
func (b *FilesystemBackend) Close() error {
	return nil
}

// Keys lists the keys currently stored under root. Abbreviated long keys
// are listed in their stored form.
func (b *FilesystemBackend) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files, err := os.ReadDir(b.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(files))
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(file.Name(), ".json"))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
