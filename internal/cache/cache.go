// Package cache provides a small cache abstraction used to memoize expensive
// query results (pagination counts in particular). Supports an in-memory
// backend for single-instance deployments and Redis for multi-instance ones.
package cache

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Cache stores opaque byte values under string keys with a per-entry TTL.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves a value. The second return is false when the key is
	// missing or expired; that is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value. A zero ttl means the backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Close releases any resources held by the cache.
	Close() error
}

// Key derives a stable cache key from a statement and its arguments.
// xxhash keeps keys short regardless of statement length.
func Key(prefix, statement string, args ...any) string {
	h := xxhash.New()
	_, _ = h.WriteString(statement)
	for _, a := range args {
		_, _ = h.WriteString("\x00")
		writeArg(h, a)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return prefix + ":" + hex.EncodeToString(buf[:])
}

func writeArg(h *xxhash.Digest, a any) {
	switch v := a.(type) {
	case string:
		_, _ = h.WriteString(v)
	case []byte:
		_, _ = h.Write(v)
	case time.Time:
		_, _ = h.WriteString(v.UTC().Format(time.RFC3339Nano))
	default:
		var buf [8]byte
		switch v := a.(type) {
		case int:
			binary.BigEndian.PutUint64(buf[:], uint64(v))
		case int64:
			binary.BigEndian.PutUint64(buf[:], uint64(v))
		case uint64:
			binary.BigEndian.PutUint64(buf[:], v)
		case bool:
			if v {
				buf[7] = 1
			}
		case float64:
			binary.BigEndian.PutUint64(buf[:], uint64(int64(v*1e6)))
		}
		_, _ = h.Write(buf[:])
	}
}
