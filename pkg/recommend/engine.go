// Package recommend ranks catalog products for a free-text request by
// fusing four independent scoring strategies.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/cache"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/classify"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/graph"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Config holds everything the engine needs from the environment.
type Config struct {
	Weights            Weights
	RequestTimeout     time.Duration
	SemanticTimeout    time.Duration
	ResultLimit        int
	CandidateLimit     int
	AccessoryLimit     int
	PrimaryLanguage    string
	SupportedLanguages []string
}

func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if c.RequestTimeout <= 0 {
		return configErr("request timeout must be positive")
	}
	if c.SemanticTimeout <= 0 || c.SemanticTimeout > c.RequestTimeout {
		return configErr("semantic timeout must be positive and at most the request timeout")
	}
	if c.ResultLimit <= 0 || c.CandidateLimit <= 0 || c.AccessoryLimit <= 0 {
		return configErr("result, candidate and accessory limits must be positive")
	}
	if !slices.Contains(c.SupportedLanguages, c.PrimaryLanguage) {
		return configErr("primary language %q is not a supported language", c.PrimaryLanguage)
	}
	return nil
}

// Resolver maps free text to a task and category.
type Resolver interface {
	Resolve(text string) (classify.Resolution, error)
}

type Engine struct {
	cfg            Config
	reader         graph.Reader
	resolver       Resolver
	cache          *cache.Layer[RankedResult]
	strategies     []Strategy
	weightsVersion string
}

// NewEngine requires exactly one strategy per name. layer may be nil to
// disable result caching.
func NewEngine(cfg Config, reader graph.Reader, resolver Resolver, layer *cache.Layer[RankedResult], strategies ...Strategy) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	byName := map[Name]Strategy{}
	for _, s := range strategies {
		if !s.Name().Valid() {
			return nil, configErr("unknown strategy %q", s.Name())
		}
		if _, dup := byName[s.Name()]; dup {
			return nil, configErr("strategy %q registered twice", s.Name())
		}
		byName[s.Name()] = s
	}
	ordered := make([]Strategy, 0, len(Names))
	for _, n := range Names {
		s, ok := byName[n]
		if !ok {
			return nil, configErr("strategy %q is not registered", n)
		}
		ordered = append(ordered, s)
	}
	return &Engine{
		cfg:            cfg,
		reader:         reader,
		resolver:       resolver,
		cache:          layer,
		strategies:     ordered,
		weightsVersion: cfg.Weights.Version(),
	}, nil
}

// Recommend ranks products for query. The returned status tells whether the
// result came from the cache.
func (e *Engine) Recommend(ctx context.Context, query string, rc Context) (RankedResult, cache.Status, error) {
	start := time.Now()
	res, status, err := e.recommend(ctx, query, rc)
	if err != nil && ctx.Err() != nil {
		// the caller left; nothing is degraded
		err = ctx.Err()
	}
	outcome := "ok"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "canceled"
	case errors.Is(err, ErrInvalidRequest):
		outcome = "invalid"
	case errors.Is(err, ErrRecommendationUnavailable):
		outcome = "unavailable"
	case err != nil:
		outcome = "error"
	case status == cache.StatusHit:
		outcome = "cached"
	}
	metrics.ObserveRecommend(outcome, time.Since(start))
	return res, status, err
}

func (e *Engine) recommend(ctx context.Context, query string, rc Context) (RankedResult, cache.Status, error) {
	rc, err := e.normalizeContext(query, rc)
	if err != nil {
		return RankedResult{}, "", err
	}
	resolution, err := e.resolver.Resolve(query)
	if err != nil {
		return RankedResult{}, "", fmt.Errorf("%w: resolve query: %v", ErrRecommendationUnavailable, err)
	}
	q := NewQuery(query, resolution, rc, e.reader, e.cfg.CandidateLimit)

	compute := func(ctx context.Context) (RankedResult, error) {
		return e.compute(ctx, q)
	}
	if e.cache == nil {
		res, err := compute(ctx)
		return res, cache.StatusMiss, err
	}
	return e.cache.GetOrCompute(ctx, e.cacheKey(q), compute)
}

func (e *Engine) normalizeContext(query string, rc Context) (Context, error) {
	if strings.TrimSpace(query) == "" {
		return rc, fmt.Errorf("%w: query is empty", ErrInvalidRequest)
	}
	if !rc.SkillLevel.Valid() {
		return rc, fmt.Errorf("%w: skill level is required", ErrInvalidRequest)
	}
	rc.Language = strings.ToLower(strings.TrimSpace(rc.Language))
	if rc.Language == "" {
		rc.Language = e.cfg.PrimaryLanguage
	}
	if !slices.Contains(e.cfg.SupportedLanguages, rc.Language) {
		return rc, fmt.Errorf("%w: unsupported language %q", ErrInvalidRequest, rc.Language)
	}
	if b := rc.BudgetCeiling; b != nil && (math.IsNaN(*b) || math.IsInf(*b, 0) || *b < 0) {
		return rc, fmt.Errorf("%w: budget ceiling must be a non-negative number", ErrInvalidRequest)
	}
	rc.ProjectType = strings.TrimSpace(rc.ProjectType)
	return rc, nil
}

func (e *Engine) cacheKey(q *Query) string {
	budget := ""
	if q.Context.BudgetCeiling != nil {
		budget = strconv.FormatFloat(*q.Context.BudgetCeiling, 'f', -1, 64)
	}
	return cache.HashKey(
		q.Normalized,
		q.Resolution.TaskID,
		q.Resolution.Category,
		q.Context.SkillLevel.String(),
		q.Context.Language,
		budget,
		strings.ToLower(q.Context.ProjectType),
		e.weightsVersion,
	)
}

func (e *Engine) compute(ctx context.Context, q *Query) (RankedResult, error) {
	outcomes := e.fanOut(ctx, q)

	// product loading and enrichment get their own budget after the fan-out
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	fused, err := fuse(outcomes, e.cfg.Weights)
	if err != nil {
		logger.Warn("[Recommend] No strategy available", "query", q.Text, "err", err)
		return RankedResult{}, err
	}

	ids := make([]string, len(fused.Items))
	for i, it := range fused.Items {
		ids[i] = it.ProductID
	}
	var products map[string]common.Product
	if len(ids) > 0 {
		products, err = e.reader.GetProducts(ctx, ids)
		if err != nil {
			return RankedResult{}, fmt.Errorf("%w: load products: %v", ErrRecommendationUnavailable, err)
		}
	}

	level := q.Context.SkillLevel
	kept := fused.Items[:0]
	for _, it := range fused.Items {
		p, ok := products[it.ProductID]
		if !ok || !level.Permits(p.Difficulty) {
			continue
		}
		if b := q.Context.BudgetCeiling; b != nil && p.Price > *b {
			continue
		}
		kept = append(kept, it)
	}
	rankItems(kept, func(id string) float64 { return products[id].Price })
	kept = graph.Limit(kept, e.cfg.ResultLimit)

	items, err := e.enrich(ctx, kept, products, level)
	if err != nil {
		return RankedResult{}, fmt.Errorf("%w: %v", ErrRecommendationUnavailable, err)
	}

	return RankedResult{
		Query:                 q.Text,
		TaskID:                q.Resolution.TaskID,
		Category:              q.Resolution.Category,
		ClassificationVersion: q.Resolution.Version,
		Context:               q.Context,
		Items:                 items,
		Strategies:            e.reports(outcomes, fused.Effective),
		EffectiveWeights:      fused.Effective,
		WeightsVersion:        e.weightsVersion,
	}, nil
}

// fanOut runs every strategy concurrently and waits at most the request
// timeout. Strategies that have not answered by then count as unavailable
// and are abandoned.
func (e *Engine) fanOut(ctx context.Context, q *Query) []outcome {
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	type result struct {
		idx int
		out outcome
	}
	q.pool.ctx = reqCtx
	results := make(chan result, len(e.strategies))
	for i, s := range e.strategies {
		go func() {
			began := time.Now()
			var cands []Candidate
			var err error
			if s.Name() == Semantic {
				cands, err = scoreWithin(reqCtx, e.cfg.SemanticTimeout, s, q)
			} else {
				cands, err = s.Score(reqCtx, q)
			}
			out := newOutcome(s.Name(), cands, err)
			out.durationMs = time.Since(began).Milliseconds()
			results <- result{idx: i, out: out}
		}()
	}

	outcomes := make([]outcome, len(e.strategies))
	done := make([]bool, len(e.strategies))
	began := time.Now()
	for pending := len(e.strategies); pending > 0; pending-- {
		select {
		case r := <-results:
			outcomes[r.idx] = r.out
			done[r.idx] = true
		case <-reqCtx.Done():
			for i, s := range e.strategies {
				if done[i] {
					continue
				}
				outcomes[i] = outcome{
					name:       s.Name(),
					status:     StatusUnavailable,
					err:        unavailable(s.Name(), fmt.Errorf("request deadline: %w", reqCtx.Err())),
					durationMs: time.Since(began).Milliseconds(),
				}
			}
			pending = 0
		}
	}

	for _, o := range outcomes {
		metrics.ObserveStrategy(string(o.name), string(o.status), time.Duration(o.durationMs)*time.Millisecond)
		if o.status == StatusUnavailable {
			logger.Warn("[Recommend] Strategy unavailable", "strategy", o.name, "err", o.err)
		}
	}
	return outcomes
}

// scoreWithin gives s at most timeout. A result that arrives later is
// discarded, whether or not s honours its context.
func scoreWithin(ctx context.Context, timeout time.Duration, s Strategy, q *Query) ([]Candidate, error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type scored struct {
		cands []Candidate
		err   error
		late  bool
	}
	ch := make(chan scored, 1)
	go func() {
		cands, err := s.Score(sctx, q)
		ch <- scored{cands: cands, err: err, late: sctx.Err() != nil}
	}()

	select {
	case r := <-ch:
		if !r.late {
			return r.cands, r.err
		}
		if r.err == nil {
			r.err = sctx.Err()
		}
		return nil, unavailable(s.Name(), fmt.Errorf("timed out: %w", r.err))
	case <-sctx.Done():
		return nil, unavailable(s.Name(), fmt.Errorf("timed out: %w", sctx.Err()))
	}
}

func (e *Engine) enrich(ctx context.Context, items []fusedItem, products map[string]common.Product, level common.SkillLevel) ([]RankedItem, error) {
	out := make([]RankedItem, len(items))
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ProductID
		out[i] = RankedItem{
			Product:               products[it.ProductID],
			FinalScore:            it.Score,
			Confidence:            it.Confidence,
			PerSourceContribution: it.Contributions,
			Reasoning:             it.Reasoning,
			CompatibleAccessories: []Accessory{},
			MandatorySafety:       []common.SafetyEquipment{},
		}
		if out[i].Reasoning == nil {
			out[i].Reasoning = []string{}
		}
	}
	if len(items) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	g.Go(func() error {
		safety, err := e.reader.MandatorySafetyForProducts(gctx, ids)
		if err != nil {
			return fmt.Errorf("mandatory safety: %w", err)
		}
		for i, id := range ids {
			if s := safety[id]; len(s) > 0 {
				out[i].MandatorySafety = s
			}
		}
		return nil
	})
	for i, id := range ids {
		g.Go(func() error {
			compatible, err := e.reader.FindCompatible(gctx, id, "")
			if err != nil {
				return fmt.Errorf("accessories of %s: %w", id, err)
			}
			acc := make([]Accessory, 0, len(compatible))
			for _, c := range compatible {
				if c.Compatibility == nil || !(c.Compatibility.Recommended || c.Compatibility.Required) {
					continue
				}
				if !level.Permits(c.Product.Difficulty) {
					continue
				}
				acc = append(acc, Accessory{
					Product:     c.Product,
					Type:        c.Compatibility.Type,
					Required:    c.Compatibility.Required,
					Recommended: c.Compatibility.Recommended,
				})
			}
			out[i].CompatibleAccessories = graph.Limit(acc, e.cfg.AccessoryLimit)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) reports(outcomes []outcome, effective map[Name]float64) []StrategyReport {
	out := make([]StrategyReport, 0, len(outcomes))
	for _, o := range outcomes {
		r := StrategyReport{
			Strategy:        o.name,
			Status:          o.status,
			Weight:          e.cfg.Weights[o.name],
			EffectiveWeight: effective[o.name],
			Candidates:      len(o.candidates),
			DurationMs:      o.durationMs,
		}
		if o.err != nil {
			r.Reason = o.err.Error()
		}
		out = append(out, r)
	}
	return out
}
