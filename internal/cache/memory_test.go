package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCacheRoundTrip(test *testing.T) {
	test.Parallel()

	memory := NewMemoryCache()
	defer func() {
		_ = memory.Close()
	}()

	if _, err := memory.Get(context.Background(), "catalog"); !errors.Is(err, ErrCacheMiss) {
		test.Fatalf("expected ErrCacheMiss, got %v", err)
	}

	if err := memory.Set(context.Background(), "catalog", []byte(`{"categories":[]}`), time.Minute); err != nil {
		test.Fatalf("Set: %v", err)
	}
	value, err := memory.Get(context.Background(), "catalog")
	if err != nil {
		test.Fatalf("Get: %v", err)
	}
	if string(value) != `{"categories":[]}` {
		test.Fatalf("unexpected value %q", value)
	}

	exists, err := memory.Exists(context.Background(), "catalog")
	if err != nil || !exists {
		test.Fatalf("Exists = %v, %v", exists, err)
	}

	if err := memory.Delete(context.Background(), "catalog"); err != nil {
		test.Fatalf("Delete: %v", err)
	}
	if _, err := memory.Get(context.Background(), "catalog"); !errors.Is(err, ErrCacheMiss) {
		test.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestMemoryCacheExpiresEntries(test *testing.T) {
	test.Parallel()

	memory := NewMemoryCache()
	defer func() {
		_ = memory.Close()
	}()

	if err := memory.Set(context.Background(), "short-lived", []byte("x"), 10*time.Millisecond); err != nil {
		test.Fatalf("Set: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if _, err := memory.Get(context.Background(), "short-lived"); !errors.Is(err, ErrCacheMiss) {
		test.Fatalf("expected expired entry to miss, got %v", err)
	}
	exists, err := memory.Exists(context.Background(), "short-lived")
	if err != nil || exists {
		test.Fatalf("expired entry must not exist, got %v, %v", exists, err)
	}
}

func TestMemoryCacheGetOrSetComputesOnce(test *testing.T) {
	test.Parallel()

	memory := NewMemoryCache()
	defer func() {
		_ = memory.Close()
	}()

	computations := 0
	compute := func() ([]byte, error) {
		computations++
		return []byte("computed"), nil
	}

	for round := 0; round < 3; round++ {
		value, err := memory.GetOrSet(context.Background(), "derived", time.Minute, compute)
		if err != nil {
			test.Fatalf("GetOrSet round %d: %v", round, err)
		}
		if string(value) != "computed" {
			test.Fatalf("unexpected value %q", value)
		}
	}
	if computations != 1 {
		test.Fatalf("expected one computation, got %d", computations)
	}

	failure := errors.New("source unavailable")
	if _, err := memory.GetOrSet(context.Background(), "other", time.Minute, func() ([]byte, error) {
		return nil, failure
	}); !errors.Is(err, failure) {
		test.Fatalf("expected compute failure to surface, got %v", err)
	}
}

func TestMemoryCacheClear(test *testing.T) {
	test.Parallel()

	memory := NewMemoryCache()
	defer func() {
		_ = memory.Close()
	}()

	if err := memory.Set(context.Background(), "a", []byte("1"), time.Minute); err != nil {
		test.Fatalf("Set: %v", err)
	}
	if err := memory.Set(context.Background(), "b", []byte("2"), time.Minute); err != nil {
		test.Fatalf("Set: %v", err)
	}
	if err := memory.Clear(context.Background()); err != nil {
		test.Fatalf("Clear: %v", err)
	}
	for _, key := range []string{"a", "b"} {
		if _, err := memory.Get(context.Background(), key); !errors.Is(err, ErrCacheMiss) {
			test.Fatalf("expected %q cleared, got %v", key, err)
		}
	}
}
