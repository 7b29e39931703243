package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

// Integration test: requires a reachable Redis. Set QERRORS_TEST_REDIS_URL
// (e.g. redis://localhost:6379/0) to enable.
func TestRedisStoreRoundTrip(t *testing.T) {
	url := os.Getenv("QERRORS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("QERRORS_TEST_REDIS_URL not set, skipping redis integration test")
	}

	s, err := NewRedisStore(url, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if err := s.Set(ctx, "fp1", []byte(`{"info":"one"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok, err := s.Get(ctx, "fp1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || string(got) != `{"info":"one"}` {
		t.Errorf("Expected stored advice, got %q (hit=%v)", got, ok)
	}

	if n, _ := s.Len(ctx); n != 1 {
		t.Errorf("Expected 1 entry, got %d", n)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "fp1"); ok {
		t.Error("Expected a miss after Clear")
	}
}

func TestRedisStoreTTL(t *testing.T) {
	url := os.Getenv("QERRORS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("QERRORS_TEST_REDIS_URL not set, skipping redis integration test")
	}

	s, err := NewRedisStore(url, time.Second, nil)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	s.Clear(ctx)
	s.Set(ctx, "ttl-fp", []byte("x"))

	time.Sleep(1200 * time.Millisecond)

	if _, ok, _ := s.Get(ctx, "ttl-fp"); ok {
		t.Error("Expected entry to expire in redis")
	}
}
