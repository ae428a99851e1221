// Package cache implements the in-memory TTL cache that sits in front of
// expensive sources. It is an explicit instance injected into the
// aggregator so tests control TTL and time deterministically.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"agendad/internal/model"
)

// Outcome describes how a GetOrFetch call was served.
type Outcome string

const (
	// OutcomeHit means the value was served without this call producing:
	// a live entry, or the shared result of a coalesced flight.
	OutcomeHit Outcome = "hit"
	// OutcomeMiss means this call invoked the producer; the miss count
	// matches producer invocations.
	OutcomeMiss Outcome = "miss"
	// OutcomeStale means the producer failed but an expired entry was
	// served instead.
	OutcomeStale Outcome = "stale"
)

type entry struct {
	value     []model.Event
	fetchedAt time.Time
}

// Cache is a process-wide TTL cache keyed by source identity.
//
// Concurrent misses for the same key are coalesced through a
// singleflight.Group, so one producer call serves all concurrent waiters.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group

	// now is swappable in tests.
	now func() time.Time
}

func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// GetOrFetch returns the cached value for key if it is younger than ttl;
// otherwise it invokes producer, stores the result with a fresh timestamp,
// and returns it.
//
// When the producer fails and an expired entry still exists, the stale
// value is served with OutcomeStale and a nil error: upstream flakiness
// degrades to stale data rather than an empty result.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, producer func(ctx context.Context) ([]model.Event, error)) ([]model.Event, Outcome, error) {
	if v, ok := c.lookup(key, ttl); ok {
		return v, OutcomeHit, nil
	}

	// produced only flips in the call whose closure actually ran the
	// producer, so coalesced waiters (and the freshness re-check inside
	// the flight) report a hit and the miss count matches producer calls.
	produced := false
	res, err, _ := c.group.Do(key, func() (any, error) {
		// Another flight may have refreshed the entry while we queued.
		if v, ok := c.lookup(key, ttl); ok {
			return v, nil
		}
		v, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		produced = true
		c.mu.Lock()
		c.entries[key] = entry{value: v, fetchedAt: c.now()}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return e.value, OutcomeStale, nil
		}
		return nil, OutcomeMiss, err
	}
	if produced {
		return res.([]model.Event), OutcomeMiss, nil
	}
	return res.([]model.Event), OutcomeHit, nil
}

// Invalidate drops the entry for key, forcing the next call to produce.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache) lookup(key string, ttl time.Duration) ([]model.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || ttl <= 0 {
		return nil, false
	}
	if c.now().Sub(e.fetchedAt) >= ttl {
		return nil, false
	}
	return e.value, true
}
