// Package cache provides the read-side cache the storefront API serves
// catalog and instruction lookups from. A memory implementation backs
// single-instance and test deployments, a Redis implementation backs
// multi-instance ones.
package cache

import (
	"context"
	"time"
)

// Cache is the storage-agnostic contract the API layer caches through.
type Cache interface {
	// Get retrieves a value by key. Returns ErrCacheMiss when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value under key for the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value by key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key holds an unexpired value.
	Exists(ctx context.Context, key string) (bool, error)

	// GetOrSet returns the cached value, or computes it through fn and
	// caches the result. A failed cache write does not fail the lookup.
	GetOrSet(ctx context.Context, key string, ttl time.Duration, fn func() ([]byte, error)) ([]byte, error)

	// Clear removes every entry this cache owns.
	Clear(ctx context.Context) error
}

type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in the cache.
	ErrCacheMiss CacheError = "cache miss"
)
