package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/danellekruger/star-wars-api-wrapper/internal/logger"
	"github.com/danellekruger/star-wars-api-wrapper/internal/metrics"
)

// DefaultTTL applies when Options.DefaultTTL is unset.
const DefaultTTL = 5 * time.Minute

// Loader produces the value for a missing key.
type Loader func(ctx context.Context) (any, error)

// Options configures a Store.
type Options struct {
	DefaultTTL time.Duration
	// Grace is how long an entry stays dead before the sweeper removes it.
	Grace time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Stats is a point-in-time view of the store. LiveEntries+ExpiredEntries == TotalEntries.
type Stats struct {
	TotalEntries   int           `json:"total_entries"`
	LiveEntries    int           `json:"active_entries"`
	ExpiredEntries int           `json:"expired_entries"`
	Hits           uint64        `json:"hits"`
	Misses         uint64        `json:"misses"`
	Loads          uint64        `json:"loads"`
	LoadErrors     uint64        `json:"load_errors"`
	Evictions      uint64        `json:"evictions"`
	DefaultTTL     time.Duration `json:"-"`
}

// EntryInfo describes one stored entry.
type EntryInfo struct {
	Key       string        `json:"key"`
	StoredAt  time.Time     `json:"stored_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	Remaining time.Duration `json:"-"`
	Expired   bool          `json:"expired"`
	Accesses  uint64        `json:"access_count"`
}

type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
	accesses atomic.Uint64
}

func (e *entry) expiresAt() time.Time { return e.storedAt.Add(e.ttl) }

func (e *entry) live(now time.Time) bool { return now.Before(e.expiresAt()) }

// Store is an in-process key/value store with per-entry expiry.
// Dead entries are never returned; they are removed by Sweep, Set, Invalidate or Clear.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group
	// gen changes on Invalidate and Clear; loads started before the change
	// do not store their result.
	gen uint64

	defaultTTL time.Duration
	grace      time.Duration
	now        func() time.Time

	hits       atomic.Uint64
	misses     atomic.Uint64
	loads      atomic.Uint64
	loadErrors atomic.Uint64
	evictions  atomic.Uint64
}

// NewStore creates an empty Store.
func NewStore(opts Options) *Store {
	s := &Store{
		entries:    make(map[string]*entry),
		defaultTTL: opts.DefaultTTL,
		grace:      opts.Grace,
		now:        opts.Now,
	}
	if s.defaultTTL <= 0 {
		s.defaultTTL = DefaultTTL
	}
	if s.grace < 0 {
		s.grace = 0
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// DefaultTTL returns the TTL used when callers pass ttl <= 0.
func (s *Store) DefaultTTL() time.Duration { return s.defaultTTL }

// Get returns the live value for key.
func (s *Store) Get(key string) (any, bool) {
	v, ok := s.lookup(key)
	if ok {
		s.hits.Add(1)
		metrics.CacheRequests.WithLabelValues("hit").Inc()
	} else {
		s.misses.Add(1)
		metrics.CacheRequests.WithLabelValues("miss").Inc()
	}
	return v, ok
}

func (s *Store) lookup(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || !e.live(s.now()) {
		return nil, false
	}
	e.accesses.Add(1)
	return e.value, true
}

// Set stores value under key for ttl, replacing any previous entry.
// A ttl <= 0 uses the default TTL.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	e := &entry{value: value, storedAt: s.now(), ttl: ttl}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

func (s *Store) generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// setIfGen is Set, skipped when the store was invalidated or cleared
// since gen was read.
func (s *Store) setIfGen(key string, value any, ttl time.Duration, gen uint64) bool {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	e := &entry{value: value, storedAt: s.now(), ttl: ttl}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.entries[key] = e
	return true
}

// GetOrLoad returns the live value for key, or runs loader, stores its result
// for ttl and returns it. Concurrent misses on the same key share one loader
// call. Loader errors are returned unchanged and nothing is stored.
//
// The loader runs detached from ctx cancellation so waiters sharing the load
// are not failed by the caller that started it; a caller whose ctx ends stops
// waiting and gets ctx.Err().
func (s *Store) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader Loader) (any, error) {
	if v, ok := s.Get(key); ok {
		logger.FromContext(ctx, "cache").Debug("cache hit", "key", key)
		return v, nil
	}
	logger.FromContext(ctx, "cache").Debug("cache miss", "key", key)

	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		// a flight that finished between our miss and DoChan already stored it
		if v, ok := s.lookup(key); ok {
			return v, nil
		}
		return s.load(loadCtx, key, ttl, loader)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.CacheLoads.WithLabelValues("shared").Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) load(ctx context.Context, key string, ttl time.Duration, loader Loader) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cache: loader for %q panicked: %v", key, r)
		}
		if err != nil {
			s.loadErrors.Add(1)
			metrics.CacheLoads.WithLabelValues("error").Inc()
		}
	}()

	s.loads.Add(1)
	gen := s.generation()
	v, err = loader(ctx)
	if err != nil {
		return nil, err
	}
	if !s.setIfGen(key, v, ttl, gen) {
		logger.FromContext(ctx, "cache").Debug("load result dropped after invalidation", "key", key)
	}
	metrics.CacheLoads.WithLabelValues("success").Inc()
	return v, nil
}

// Invalidate removes key. It reports whether an entry was present.
func (s *Store) Invalidate(key string) bool {
	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.gen++
	s.mu.Unlock()
	s.group.Forget(key)
	if ok {
		s.evictions.Add(1)
		metrics.CacheEvictions.WithLabelValues("invalidate").Inc()
	}
	return ok
}

// Clear removes every entry and returns how many were dropped.
func (s *Store) Clear() int {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = make(map[string]*entry)
	s.gen++
	s.mu.Unlock()
	if n > 0 {
		s.evictions.Add(uint64(n))
		metrics.CacheEvictions.WithLabelValues("clear").Add(float64(n))
	}
	return n
}

// Stats returns counts taken under one read lock. It never mutates the store.
func (s *Store) Stats() Stats {
	now := s.now()
	s.mu.RLock()
	st := Stats{TotalEntries: len(s.entries)}
	for _, e := range s.entries {
		if e.live(now) {
			st.LiveEntries++
		}
	}
	s.mu.RUnlock()

	st.ExpiredEntries = st.TotalEntries - st.LiveEntries
	st.Hits = s.hits.Load()
	st.Misses = s.misses.Load()
	st.Loads = s.loads.Load()
	st.LoadErrors = s.loadErrors.Load()
	st.Evictions = s.evictions.Load()
	st.DefaultTTL = s.defaultTTL
	return st
}

// Entries returns a snapshot of every stored entry, sorted by key.
func (s *Store) Entries() []EntryInfo {
	now := s.now()
	s.mu.RLock()
	out := make([]EntryInfo, 0, len(s.entries))
	for k, e := range s.entries {
		exp := e.expiresAt()
		info := EntryInfo{
			Key:       k,
			StoredAt:  e.storedAt,
			ExpiresAt: exp,
			Expired:   !e.live(now),
			Accesses:  e.accesses.Load(),
		}
		if !info.Expired {
			info.Remaining = exp.Sub(now)
		}
		out = append(out, info)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Sweep deletes entries that have been dead for longer than the grace window.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.grace)
	s.mu.Lock()
	removed := 0
	for k, e := range s.entries {
		if !e.expiresAt().After(cutoff) {
			delete(s.entries, k)
			removed++
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		s.evictions.Add(uint64(removed))
		metrics.CacheEvictions.WithLabelValues("sweep").Add(float64(removed))
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done. A non-positive
// interval disables sweeping.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	log := logger.WithComponent("cache")
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					log.Info("swept expired cache entries", "removed", n, "remaining", s.Stats().TotalEntries)
				}
			}
		}
	}()
}
