// Package cache provides the caches lariat relies on to avoid repeated
// network and build work.
//
// Two layers live here. The byte-level [Cache] interface (with file, Redis
// and null backends) caches HTTP responses such as repository index pages;
// sharing the Redis backend between CI runners avoids re-scraping the same
// package index on every job. On top of that, [SourceCache] stores
// downloaded package tarballs with their extracted DESCRIPTION metadata,
// and [BuildCache] stores built package libraries keyed by R version and
// platform.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"time"
)

// Cache is a byte-level key/value store with per-entry expiry.
//
// Implementations are not required to be goroutine-safe; callers that
// share one instance across goroutines must synchronize.
type Cache interface {
	// Get retrieves a value. The second return is false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores a value. A ttl of 0 means the entry never expires.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// Delete removes a value. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases any resources held by the backend.
	Close() error
}

// Hash computes the SHA-256 of data as a 64-character hex string.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashFile computes the SHA-256 of the file at path, prefixed with the
// algorithm name ("sha256:<hex>") as stored in lockfiles.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
