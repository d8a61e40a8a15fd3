package recommend

import (
	"context"
	"fmt"
	"sync"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/util"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/classify"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/graph"
)

// Query is what every strategy sees for one request. It is read-only apart
// from the memoised candidate pool.
type Query struct {
	Text       string
	Normalized string
	Tokens     []string
	Resolution classify.Resolution
	Context    Context

	pool *candidatePool
}

// NewQuery prepares a query for scoring. reader and limit feed the
// candidate pool; reader may be nil when no strategy needs the pool.
func NewQuery(text string, res classify.Resolution, rc Context, reader graph.Reader, limit int) *Query {
	norm := util.NormalizeText(text)
	return &Query{
		Text:       text,
		Normalized: norm,
		Tokens:     util.Tokenize(norm),
		Resolution: res,
		Context:    rc,
		pool:       &candidatePool{reader: reader, limit: limit, done: make(chan struct{})},
	}
}

// Candidates returns products plausibly relevant to the query: full-text
// search hits followed by products of the resolved category, skill-filtered
// and capped. The pool is loaded once per query under the request context
// when one is bound, so a strategy with a shorter deadline cannot spoil it
// for the others.
func (q *Query) Candidates(ctx context.Context) ([]common.Product, error) {
	return q.pool.load(ctx, q)
}

type candidatePool struct {
	reader graph.Reader
	limit  int
	ctx    context.Context

	once     sync.Once
	done     chan struct{}
	products []common.Product
	err      error
}

// load starts the fetch on first use and waits for it at most as long as
// ctx allows. An abandoned wait leaves the fetch running for other callers.
func (p *candidatePool) load(ctx context.Context, q *Query) ([]common.Product, error) {
	p.once.Do(func() {
		fetchCtx := ctx
		if p.ctx != nil {
			fetchCtx = p.ctx
		}
		go func() {
			defer close(p.done)
			p.products, p.err = p.fetch(fetchCtx, q)
		}()
	})

	select {
	case <-p.done:
		return p.products, p.err
	case <-ctx.Done():
		return nil, fmt.Errorf("candidate pool: %w", ctx.Err())
	}
}

func (p *candidatePool) fetch(ctx context.Context, q *Query) ([]common.Product, error) {
	if p.reader == nil {
		return nil, fmt.Errorf("candidate pool: %w", graph.ErrUnavailable)
	}
	level := q.Context.SkillLevel

	seen := make(map[string]struct{})
	var ids []string
	if q.Normalized != "" {
		hits, err := p.reader.Search(ctx, q.Text, q.Context.Language, p.limit)
		if err != nil {
			return nil, fmt.Errorf("candidate search: %w", err)
		}
		for _, h := range graph.FilterBySkill(hits, level) {
			if _, ok := seen[h.Product.ID]; ok {
				continue
			}
			seen[h.Product.ID] = struct{}{}
			ids = append(ids, h.Product.ID)
		}
	}

	var byCategory []common.Product
	if q.Resolution.Category != "" && len(ids) < p.limit {
		var err error
		byCategory, err = p.reader.ProductsInCategory(ctx, q.Resolution.Category, level, p.limit)
		if err != nil {
			return nil, fmt.Errorf("candidate category: %w", err)
		}
	}

	var out []common.Product
	if len(ids) > 0 {
		full, err := p.reader.GetProducts(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("candidate hydrate: %w", err)
		}
		for _, id := range ids {
			if prod, ok := full[id]; ok {
				out = append(out, prod)
			}
		}
	}
	for _, prod := range byCategory {
		if _, ok := seen[prod.ID]; ok || !level.Permits(prod.Difficulty) {
			continue
		}
		seen[prod.ID] = struct{}{}
		out = append(out, prod)
	}
	return graph.Limit(out, p.limit), nil
}
