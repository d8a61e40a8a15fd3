// Package collab serves co-occurrence statistics aggregated from purchase
// and quotation history. The aggregates are produced elsewhere; this package
// only reads them.
package collab

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnavailable means the statistics store could not be queried.
var ErrUnavailable = errors.New("collaborative statistics unavailable")

// Scope selects the dimension the statistics are keyed by.
type Scope string

const (
	ScopeTask     Scope = "task"
	ScopeCategory Scope = "category"
)

// Stat is the co-occurrence score of one product within one scope key.
type Stat struct {
	Scope     Scope   `json:"scope"`
	Key       string  `json:"key"`
	ProductID string  `json:"product_id"`
	Score     float64 `json:"score"`
}

// Source returns the statistics for one scope key ordered by score desc. An
// empty result means there are no statistics; it is not an error.
type Source interface {
	CoOccurrence(ctx context.Context, scope Scope, key string, limit int) ([]Stat, error)
}

type PgxSource struct {
	pool *pgxpool.Pool
}

func NewPgxSource(pool *pgxpool.Pool) *PgxSource {
	return &PgxSource{pool: pool}
}

func (s *PgxSource) CoOccurrence(ctx context.Context, scope Scope, key string, limit int) ([]Stat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT product_id, score
		FROM product_cooccurrence
		WHERE scope = $1 AND scope_key = $2 AND score > 0
		ORDER BY score DESC, product_id
		LIMIT $3`, string(scope), key, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []Stat
	for rows.Next() {
		st := Stat{Scope: scope, Key: key}
		if err := rows.Scan(&st.ProductID, &st.Score); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

// MemorySource holds statistics in memory, loaded from the development seed.
type MemorySource struct {
	mu    sync.RWMutex
	stats map[string][]Stat
}

func NewMemorySource(stats []Stat) *MemorySource {
	m := &MemorySource{stats: map[string][]Stat{}}
	for _, st := range stats {
		if st.Score <= 0 {
			continue
		}
		k := string(st.Scope) + ":" + st.Key
		m.stats[k] = append(m.stats[k], st)
	}
	for _, list := range m.stats {
		slices.SortFunc(list, func(a, b Stat) int {
			if a.Score != b.Score {
				if a.Score > b.Score {
					return -1
				}
				return 1
			}
			return strings.Compare(a.ProductID, b.ProductID)
		})
	}
	return m
}

// LoadFile reads the cooccurrence array of a JSON seed document.
func LoadFile(path string) (*MemorySource, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Stats []Stat `json:"cooccurrence"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return NewMemorySource(doc.Stats), nil
}

func (m *MemorySource) CoOccurrence(ctx context.Context, scope Scope, key string, limit int) ([]Stat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.stats[string(scope)+":"+key]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return slices.Clone(list), nil
}

// Open picks a source from the URL scheme: postgres:// or file://.
func Open(ctx context.Context, rawURL string) (Source, func(), error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse collaborative store url: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		pool, err := pgxpool.New(ctx, rawURL)
		if err != nil {
			return nil, nil, err
		}
		return NewPgxSource(pool), pool.Close, nil
	case "file":
		src, err := LoadFile(u.Host + u.Path)
		if err != nil {
			return nil, nil, err
		}
		return src, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unsupported collaborative store scheme %q", u.Scheme)
}
