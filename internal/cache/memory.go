package cache

import (
	"container/list"
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/vietddude/qerrors/internal/metrics"
)

type entry struct {
	fingerprint string
	advice      []byte
	insertedAt  time.Time
}

// MemoryStore is an in-process LRU cache with TTL expiry. Recency is
// updated on both hits and writes. When a memory limit is configured,
// the effective capacity halves while the heap stays above the limit
// and grows back once pressure clears, never exceeding the configured
// maximum.
type MemoryStore struct {
	mu       sync.Mutex
	maxSize  int // configured cap after clamping
	capacity int // effective cap, <= maxSize
	ttl      time.Duration
	memLimit uint64
	entries  map[string]*list.Element
	order    *list.List // front = most recently used

	now       func() time.Time
	heapAlloc func() uint64
	log       *slog.Logger
}

// NewMemoryStore creates an in-memory advice store. Limits above
// MaxEntriesCeiling are clamped with a warning.
func NewMemoryStore(cfg Config, log *slog.Logger) *MemoryStore {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "advice_cache")

	maxSize := cfg.MaxEntries
	if maxSize > MaxEntriesCeiling {
		log.Warn("cache limit exceeds ceiling, clamping",
			"requested", maxSize,
			"ceiling", MaxEntriesCeiling)
		maxSize = MaxEntriesCeiling
	}
	if maxSize < 1 {
		maxSize = 1
	}

	return &MemoryStore{
		maxSize:   maxSize,
		capacity:  maxSize,
		ttl:       cfg.TTL,
		memLimit:  cfg.MemoryLimit,
		entries:   make(map[string]*list.Element),
		order:     list.New(),
		now:       time.Now,
		heapAlloc: heapAlloc,
		log:       log,
	}
}

// Get returns the advice for a fingerprint and bumps its recency.
// Expired entries are dropped and reported as misses.
func (s *MemoryStore) Get(_ context.Context, fingerprint string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[fingerprint]
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, false, nil
	}

	ent := el.Value.(*entry)
	if s.expired(ent) {
		s.removeUnsafe(el, "ttl")
		metrics.CacheMisses.Inc()
		return nil, false, nil
	}

	s.order.MoveToFront(el)
	metrics.CacheHits.Inc()
	return ent.advice, true, nil
}

// Set stores advice under a fingerprint, refreshing recency and TTL for
// existing entries and evicting the least recently used entry at
// capacity.
func (s *MemoryStore) Set(_ context.Context, fingerprint string, advice []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[fingerprint]; ok {
		ent := el.Value.(*entry)
		ent.advice = advice
		ent.insertedAt = s.now()
		s.order.MoveToFront(el)
		return nil
	}

	for len(s.entries) >= s.capacity {
		s.evictOldestUnsafe()
	}

	el := s.order.PushFront(&entry{
		fingerprint: fingerprint,
		advice:      advice,
		insertedAt:  s.now(),
	})
	s.entries[fingerprint] = el
	metrics.CacheEntries.Set(float64(len(s.entries)))
	return nil
}

// PurgeExpired drops every expired entry and re-evaluates the effective
// capacity when memory-aware sizing is on. Idempotent.
func (s *MemoryStore) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		if s.expired(el.Value.(*entry)) {
			s.removeUnsafe(el, "ttl")
			purged++
		}
		el = prev
	}

	s.adjustCapacityUnsafe()
	return purged, nil
}

// Clear removes all entries.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	s.entries = make(map[string]*list.Element)
	s.order.Init()
	if n > 0 {
		metrics.CacheEvictions.WithLabelValues("clear").Add(float64(n))
	}
	metrics.CacheEntries.Set(0)
	return nil
}

// Len returns the current entry count, expired or not.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *MemoryStore) expired(ent *entry) bool {
	return s.ttl > 0 && s.now().Sub(ent.insertedAt) > s.ttl
}

func (s *MemoryStore) removeUnsafe(el *list.Element, reason string) {
	ent := el.Value.(*entry)
	delete(s.entries, ent.fingerprint)
	s.order.Remove(el)
	metrics.CacheEvictions.WithLabelValues(reason).Inc()
	metrics.CacheEntries.Set(float64(len(s.entries)))
}

func (s *MemoryStore) evictOldestUnsafe() {
	el := s.order.Back()
	if el == nil {
		return
	}
	s.removeUnsafe(el, "lru")
}

// adjustCapacityUnsafe shrinks the effective capacity while the heap is
// over the configured limit and restores it afterwards. The configured
// maximum is never exceeded.
func (s *MemoryStore) adjustCapacityUnsafe() {
	if s.memLimit == 0 {
		return
	}

	if s.heapAlloc() > s.memLimit {
		next := s.capacity / 2
		if next < 1 {
			next = 1
		}
		if next < s.capacity {
			s.capacity = next
			s.log.Warn("memory pressure, reducing cache capacity",
				"capacity", s.capacity,
				"max", s.maxSize)
			for len(s.entries) > s.capacity {
				s.evictOldestUnsafe()
			}
		}
		return
	}

	if s.capacity < s.maxSize {
		s.capacity *= 2
		if s.capacity > s.maxSize {
			s.capacity = s.maxSize
		}
	}
}

func heapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}
