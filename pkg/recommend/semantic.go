package recommend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/ai"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/metrics"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/store"
	gobreaker "github.com/sony/gobreaker/v2"
)

// SemanticMode selects how the semantic backend is asked for relevance.
type SemanticMode string

const (
	// ModeEmbedding compares query and product embeddings.
	ModeEmbedding SemanticMode = "embedding"
	// ModeGenerative asks a chat model to rate the candidates.
	ModeGenerative SemanticMode = "generative"
)

func ParseSemanticMode(s string) (SemanticMode, error) {
	switch m := SemanticMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeEmbedding, ModeGenerative:
		return m, nil
	}
	return "", configErr("unknown semantic mode %q", s)
}

const (
	descriptionTokens = 96
	embedBatchSize    = 32
)

// EmbeddingCache stores product embeddings per model so that only the query
// has to be embedded on the request path.
type EmbeddingCache interface {
	GetEmbeddings(ctx context.Context, model string, productIDs []string) (map[string][]float32, error)
	PutEmbeddings(ctx context.Context, model string, vectors map[string][]float32) error
}

type SemanticStrategy struct {
	client   ai.ScoringClient
	mode     SemanticMode
	cache    EmbeddingCache
	limit    int
	truncate func(string, int) (string, error)
	breaker  *gobreaker.CircuitBreaker[[]Candidate]
	genOpts  []ai.GenerateOption
}

type SemanticOption func(*SemanticStrategy)

// WithEmbeddingCache keeps product vectors between requests.
func WithEmbeddingCache(c EmbeddingCache) SemanticOption {
	return func(s *SemanticStrategy) { s.cache = c }
}

// WithTruncator replaces the tokenizer used to shorten descriptions.
func WithTruncator(fn func(string, int) (string, error)) SemanticOption {
	return func(s *SemanticStrategy) { s.truncate = fn }
}

// WithGenerateOptions is appended to every rating request in generative mode.
func WithGenerateOptions(opts ...ai.GenerateOption) SemanticOption {
	return func(s *SemanticStrategy) { s.genOpts = append(s.genOpts, opts...) }
}

// NewSemanticStrategy scores at most limit pool candidates per request.
func NewSemanticStrategy(client ai.ScoringClient, mode SemanticMode, limit int, opts ...SemanticOption) *SemanticStrategy {
	s := &SemanticStrategy{
		client:   client,
		mode:     mode,
		limit:    limit,
		truncate: ai.TruncateToTokens,
		breaker:  newBreaker(time.Minute, 2*time.Minute),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newBreaker(interval, timeout time.Duration) *gobreaker.CircuitBreaker[[]Candidate] {
	return gobreaker.NewCircuitBreaker[[]Candidate](gobreaker.Settings{
		Name:        "semantic",
		MaxRequests: 3,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoSignal) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SemanticBreakerState.Set(float64(to))
			logger.Warn("[Recommend] Semantic circuit breaker changed state", "from", from.String(), "to", to.String())
		},
	})
}

func (s *SemanticStrategy) Name() Name { return Semantic }

func (s *SemanticStrategy) Score(ctx context.Context, q *Query) ([]Candidate, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, &StrategyError{Strategy: Semantic, Kind: ErrNoSignal, Err: errors.New("empty query")}
	}
	products, err := q.Candidates(ctx)
	if err != nil {
		return nil, unavailable(Semantic, err)
	}
	if s.limit > 0 && len(products) > s.limit {
		products = products[:s.limit]
	}
	if len(products) == 0 {
		return nil, nil
	}

	out, err := s.breaker.Execute(func() ([]Candidate, error) {
		if s.mode == ModeGenerative {
			return s.generative(ctx, q, products)
		}
		return s.embedding(ctx, q, products)
	})
	if err != nil {
		if errors.Is(err, ErrNoSignal) {
			return nil, err
		}
		return nil, unavailable(Semantic, err)
	}
	return out, nil
}

func (s *SemanticStrategy) embedding(ctx context.Context, q *Query, products []common.Product) ([]Candidate, error) {
	model := s.client.EmbeddingModel()
	queryVec, err := s.client.GenerateEmbedding(ctx, []byte(q.Text))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}
	vectors := map[string][]float32{}
	if s.cache != nil {
		cached, err := s.cache.GetEmbeddings(ctx, model, ids)
		if err != nil {
			logger.Warn("[Recommend] Embedding cache lookup failed", "err", err)
		} else {
			vectors = cached
		}
	}

	var missing []common.Product
	for _, p := range products {
		if _, ok := vectors[p.ID]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		inputs := make([][]byte, len(missing))
		for i, p := range missing {
			inputs[i] = []byte(s.productText(p))
		}
		embedded, err := store.GenerateEmbeddings(ctx, s.client, inputs, embedBatchSize)
		if err != nil {
			return nil, fmt.Errorf("embed candidates: %w", err)
		}
		if len(embedded) != len(missing) {
			return nil, fmt.Errorf("embed candidates: got %d vectors for %d inputs", len(embedded), len(missing))
		}
		fresh := make(map[string][]float32, len(missing))
		for i, p := range missing {
			vectors[p.ID] = embedded[i]
			fresh[p.ID] = embedded[i]
		}
		if s.cache != nil {
			if err := s.cache.PutEmbeddings(ctx, model, fresh); err != nil {
				logger.Warn("[Recommend] Failed to store embeddings", "err", err)
			}
		}
	}

	var out []Candidate
	for _, p := range products {
		sim := cosineSimilarity(queryVec, vectors[p.ID])
		if sim <= 0 {
			continue
		}
		out = append(out, Candidate{
			ProductID: p.ID,
			Score:     sim,
			Reasoning: fmt.Sprintf("semantically similar to the request (%.2f)", sim),
		})
	}
	return out, nil
}

func (s *SemanticStrategy) generative(ctx context.Context, q *Query, products []common.Product) ([]Candidate, error) {
	known := make(map[string]struct{}, len(products))
	cands := make([]ai.RelevanceCandidate, len(products))
	for i, p := range products {
		known[p.ID] = struct{}{}
		desc, err := s.truncate(p.Description, descriptionTokens)
		if err != nil {
			return nil, fmt.Errorf("truncate description: %w", err)
		}
		cands[i] = ai.RelevanceCandidate{ID: p.ID, Name: p.Name, Description: desc}
	}

	opts := append([]ai.GenerateOption{
		ai.WithSystemPrompts(ai.RelevanceSystemPrompt),
		ai.WithTemperature(0),
	}, s.genOpts...)

	var resp ai.RelevanceResponse
	err := s.client.GenerateCompletionWithFormat(
		ctx,
		"relevance_scores",
		"Relevance of each candidate product to the request",
		ai.RelevancePrompt(q.Text, cands),
		&resp,
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("rate candidates: %w", err)
	}

	seen := map[string]struct{}{}
	var out []Candidate
	for _, sc := range resp.Scores {
		if _, ok := known[sc.ID]; !ok {
			continue
		}
		if _, dup := seen[sc.ID]; dup {
			continue
		}
		seen[sc.ID] = struct{}{}
		score := clamp01(sc.Relevance)
		if score == 0 {
			continue
		}
		reason := strings.TrimSpace(sc.Reason)
		if reason == "" {
			reason = fmt.Sprintf("rated %.2f by the language model", score)
		}
		out = append(out, Candidate{ProductID: sc.ID, Score: score, Reasoning: reason})
	}
	return out, nil
}

func (s *SemanticStrategy) productText(p common.Product) string {
	text := p.Name
	if p.Description != "" {
		text += ". " + p.Description
	}
	if len(p.Keywords) > 0 {
		text += ". " + strings.Join(p.Keywords, ", ")
	}
	return text
}

// cosineSimilarity maps to [0,1] by dropping negative similarity.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return clamp01(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ Strategy = (*SemanticStrategy)(nil)
