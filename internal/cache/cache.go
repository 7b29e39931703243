// Package cache stores advice payloads keyed by error fingerprint.
//
// Two implementations are provided: an in-process LRU store with TTL
// expiry and memory-aware sizing, and a Redis-backed store for
// deployments where multiple instances should share advice.
package cache

import (
	"context"
	"time"
)

// MaxEntriesCeiling is the hard upper bound on the in-memory store's
// capacity. Configured limits above it are clamped, never honored.
const MaxEntriesCeiling = 1000

// Config holds advice cache settings.
type Config struct {
	MaxEntries  int           // entry cap, clamped to MaxEntriesCeiling
	TTL         time.Duration // entry lifetime; 0 or less means no expiry
	MemoryLimit uint64        // heap bytes; above it capacity shrinks, 0 disables
}

// Store is the advice cache contract. Values are serialized advice
// objects; callers own encoding and decoding.
type Store interface {
	// Get returns the advice stored for a fingerprint. Expired entries
	// report a miss.
	Get(ctx context.Context, fingerprint string) ([]byte, bool, error)
	// Set stores advice for a fingerprint, evicting the least recently
	// used entry when at capacity.
	Set(ctx context.Context, fingerprint string, advice []byte) error
	// PurgeExpired removes expired entries and returns how many were
	// dropped. Safe to call at any time, including repeatedly.
	PurgeExpired(ctx context.Context) (int, error)
	// Clear removes all entries.
	Clear(ctx context.Context) error
	// Len returns the current entry count.
	Len(ctx context.Context) (int, error)
}
