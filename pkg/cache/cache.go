// Package cache is the read-through result cache of the recommendation
// engine. Entries are stamped with the catalog generation they were computed
// under and are only served while that generation is current and the entry
// has not expired.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/metrics"
	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"
)

// Entry is the persisted form of one cached result.
type Entry[T any] struct {
	Key               string    `json:"key"`
	Result            T         `json:"ranked_result"`
	CatalogGeneration int64     `json:"catalog_generation"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// Generation reports the current catalog generation.
type Generation interface {
	Current() int64
}

// Status describes how a lookup was served.
type Status string

const (
	StatusHit         Status = "hit"
	StatusMiss        Status = "miss"
	StatusStale       Status = "stale"
	StatusExpired     Status = "expired"
	StatusUnavailable Status = "unavailable"
)

type Layer[T any] struct {
	store Store
	ttl   time.Duration
	gen   Generation
	now   func() time.Time
	group singleflight.Group
}

type Option[T any] func(*Layer[T])

// WithClock replaces time.Now, for tests.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(l *Layer[T]) { l.now = now }
}

func NewLayer[T any](store Store, ttl time.Duration, gen Generation, opts ...Option[T]) *Layer[T] {
	l := &Layer[T]{store: store, ttl: ttl, gen: gen, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GetOrCompute serves key from the cache or runs compute and stores its
// result. Concurrent misses for the same key and generation share one
// compute call, which runs detached from the caller's cancellation; compute
// must bound its own run time. Store failures never fail the request; the result is then
// computed directly and left uncached.
func (l *Layer[T]) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (T, error)) (T, Status, error) {
	gen := l.gen.Current()

	status := StatusMiss
	raw, ok, err := l.store.Get(ctx, key)
	switch {
	case err != nil:
		status = StatusUnavailable
		logger.Warn("[Cache] Lookup failed, computing uncached", "key", key, "err", err)
	case ok:
		var e Entry[T]
		if err := json.Unmarshal(raw, &e); err != nil {
			logger.Warn("[Cache] Dropping undecodable entry", "key", key, "err", err)
			break
		}
		switch {
		case e.CatalogGeneration != gen:
			status = StatusStale
		case !l.now().Before(e.ExpiresAt):
			status = StatusExpired
		default:
			metrics.CacheLookups.WithLabelValues(string(StatusHit)).Inc()
			return e.Result, StatusHit, nil
		}
	}
	metrics.CacheLookups.WithLabelValues(string(status)).Inc()

	// The shared compute outlives any single caller; each caller stops
	// waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key+"@"+strconv.FormatInt(gen, 10), func() (any, error) {
		res, err := compute(shared)
		if err != nil {
			return res, err
		}
		if status != StatusUnavailable {
			l.put(shared, key, gen, res)
		}
		return res, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, status, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, status, r.Err
		}
		return r.Val.(T), status, nil
	}
}

func (l *Layer[T]) put(ctx context.Context, key string, gen int64, res T) {
	b, err := json.Marshal(Entry[T]{
		Key:               key,
		Result:            res,
		CatalogGeneration: gen,
		ExpiresAt:         l.now().Add(l.ttl),
	})
	if err != nil {
		logger.Warn("[Cache] Failed to encode entry", "key", key, "err", err)
		return
	}
	if err := l.store.Set(ctx, key, b, l.ttl); err != nil {
		logger.Warn("[Cache] Failed to store entry", "key", key, "err", err)
	}
}

// Purge drops every entry. Entries from older generations are never served,
// so this only reclaims space.
func (l *Layer[T]) Purge(ctx context.Context) error {
	return l.store.DropAll(ctx)
}

// HashKey builds a fixed-length key from its parts. Parts are separated by a
// unit separator so that ("ab","c") and ("a","bc") differ.
func HashKey(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return "rec:" + hex.EncodeToString(h[:])
}
