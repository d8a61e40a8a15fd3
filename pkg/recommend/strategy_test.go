package recommend

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/ai"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/classify"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/collab"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/graph"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/metrics"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/store/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.Open(fixture, "en")
	require.NoError(t, err)
	return store
}

func scores(cands []Candidate) map[string]float64 {
	out := map[string]float64{}
	for _, c := range cands {
		out[c.ProductID] = c.Score
	}
	return out
}

func TestGraphStrategyUsesEdgeConfidence(t *testing.T) {
	store := openStore(t)
	s := NewGraphStrategy(store, 50)
	q := NewQuery("drilling holes in wood", classify.Resolution{TaskID: "drill_wood", Category: "drills"},
		Context{SkillLevel: common.SkillIntermediate, Language: "en"}, store, 50)

	cands, err := s.Score(context.Background(), q)
	require.NoError(t, err)
	got := scores(cands)
	assert.Equal(t, map[string]float64{"p-drill-basic": 0.9, "p-drill-mid": 0.8, "p-bit-wood": 0.6}, got)
}

func TestGraphStrategyUnavailable(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Close())
	s := NewGraphStrategy(store, 50)
	q := NewQuery("drill", classify.Resolution{TaskID: "drill_wood"}, beginner(), store, 50)

	_, err := s.Score(context.Background(), q)
	assert.ErrorIs(t, err, ErrStrategyUnavailable)
	assert.ErrorIs(t, err, graph.ErrUnavailable)
	var se *StrategyError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Graph, se.Strategy)
}

func TestContentStrategyPrefersSharedTerms(t *testing.T) {
	store := openStore(t)
	q := NewQuery("holes in wood", classify.Resolution{TaskID: "drill_wood", Category: "drills"}, beginner(), store, 50)

	cands, err := NewContentStrategy().Score(context.Background(), q)
	require.NoError(t, err)
	got := scores(cands)
	require.Contains(t, got, "p-bit-wood")
	require.Contains(t, got, "p-drill-basic")
	assert.Greater(t, got["p-bit-wood"], got["p-drill-basic"])
	for id, v := range got {
		assert.True(t, v > 0 && v <= 1, "%s scored %v", id, v)
	}
	assert.NotContains(t, got, "p-drill-pro")
}

func TestContentStrategyWithoutTerms(t *testing.T) {
	store := openStore(t)
	q := NewQuery("!!!", classify.Resolution{}, beginner(), store, 50)
	_, err := NewContentStrategy().Score(context.Background(), q)
	assert.ErrorIs(t, err, ErrNoSignal)
}

func TestCosine(t *testing.T) {
	score, matched := cosine(map[string]struct{}{"drill": {}}, map[string]float64{"drill": 1})
	assert.InDelta(t, 1, score, 1e-12)
	assert.Equal(t, []string{"drill"}, matched)

	score, _ = cosine(map[string]struct{}{"drill": {}, "wood": {}}, map[string]float64{"drill": 1, "metal": 1})
	assert.InDelta(t, 0.5, score, 1e-12)

	score, matched = cosine(map[string]struct{}{"weld": {}}, map[string]float64{"drill": 1})
	assert.Zero(t, score)
	assert.Nil(t, matched)
}

type failingCollab struct{}

func (failingCollab) CoOccurrence(ctx context.Context, scope collab.Scope, key string, limit int) ([]collab.Stat, error) {
	return nil, collab.ErrUnavailable
}

func TestCollaborativeStrategy(t *testing.T) {
	src := collab.NewMemorySource([]collab.Stat{
		{Scope: collab.ScopeTask, Key: "drill_wood", ProductID: "a", Score: 40},
		{Scope: collab.ScopeTask, Key: "drill_wood", ProductID: "b", Score: 10},
		{Scope: collab.ScopeCategory, Key: "drills", ProductID: "b", Score: 5},
		{Scope: collab.ScopeCategory, Key: "drills", ProductID: "c", Score: 2},
	})
	s := NewCollaborativeStrategy(src, 10)
	ctx := context.Background()

	q := NewQuery("drill", classify.Resolution{TaskID: "drill_wood", Category: "drills"}, beginner(), nil, 10)
	cands, err := s.Score(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 1, "b": 1, "c": 0.4}, scores(cands))

	q = NewQuery("drill", classify.Resolution{TaskID: "weld_steel"}, beginner(), nil, 10)
	cands, err = s.Score(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, cands)

	q = NewQuery("drill", classify.Resolution{}, beginner(), nil, 10)
	_, err = s.Score(ctx, q)
	assert.ErrorIs(t, err, ErrNoSignal)

	q = NewQuery("drill", classify.Resolution{TaskID: "drill_wood"}, beginner(), nil, 10)
	_, err = NewCollaborativeStrategy(failingCollab{}, 10).Score(ctx, q)
	assert.ErrorIs(t, err, ErrStrategyUnavailable)
	assert.ErrorIs(t, err, collab.ErrUnavailable)
}

type fakeScorer struct {
	embedCalls atomic.Int32
	chatCalls  atomic.Int32
	err        error
	scores     []ai.RelevanceScore
	lastPrompt string
	lastOpts   ai.GenerateOptions
}

func (f *fakeScorer) vector(text string) []float32 {
	text = strings.ToLower(text)
	switch {
	case strings.Contains(text, "drill"):
		return []float32{1, 0}
	case strings.Contains(text, "sand"):
		return []float32{0, 1}
	}
	return []float32{-1, 0}
}

func (f *fakeScorer) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	f.embedCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.vector(string(input)), nil
}

func (f *fakeScorer) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	f.embedCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = f.vector(string(in))
	}
	return out, nil
}

func (f *fakeScorer) EmbeddingModel() string { return "fake-embed" }

func (f *fakeScorer) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	f.chatCalls.Add(1)
	f.lastPrompt = prompt
	f.lastOpts = ai.GenerateOptions{}
	for _, o := range opts {
		o(&f.lastOpts)
	}
	if f.err != nil {
		return f.err
	}
	out.(*ai.RelevanceResponse).Scores = f.scores
	return nil
}

func (f *fakeScorer) ResetMetrics()               {}
func (f *fakeScorer) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

type mapEmbeddingCache struct {
	vectors map[string][]float32
	puts    int
}

func (c *mapEmbeddingCache) GetEmbeddings(ctx context.Context, model string, ids []string) (map[string][]float32, error) {
	out := map[string][]float32{}
	for _, id := range ids {
		if v, ok := c.vectors[model+"/"+id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (c *mapEmbeddingCache) PutEmbeddings(ctx context.Context, model string, vectors map[string][]float32) error {
	c.puts++
	for id, v := range vectors {
		c.vectors[model+"/"+id] = v
	}
	return nil
}

func TestSemanticEmbeddingMode(t *testing.T) {
	store := openStore(t)
	client := &fakeScorer{}
	embCache := &mapEmbeddingCache{vectors: map[string][]float32{}}
	s := NewSemanticStrategy(client, ModeEmbedding, 20, WithEmbeddingCache(embCache))
	res := classify.Resolution{Category: "drills"}

	q := NewQuery("drill for wood", res, beginner(), store, 50)
	cands, err := s.Score(context.Background(), q)
	require.NoError(t, err)
	got := scores(cands)
	assert.InDelta(t, 1, got["p-drill-basic"], 1e-9)
	assert.NotContains(t, got, "p-sander")
	assert.Equal(t, 1, embCache.puts)
	assert.Equal(t, int32(2), client.embedCalls.Load())

	q = NewQuery("drill for wood", res, beginner(), store, 50)
	_, err = s.Score(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, int32(3), client.embedCalls.Load(), "only the query is embedded once vectors are cached")
}

func TestSemanticGenerativeMode(t *testing.T) {
	store := openStore(t)
	client := &fakeScorer{scores: []ai.RelevanceScore{
		{ID: "p-drill-basic", Relevance: 0.9, Reason: "cordless drill for wood"},
		{ID: "p-drill-basic", Relevance: 0.1},
		{ID: "p-invented", Relevance: 1},
		{ID: "p-bit-wood", Relevance: 1.7},
		{ID: "p-sander", Relevance: 0},
	}}
	truncated := 0
	s := NewSemanticStrategy(client, ModeGenerative, 20, WithTruncator(func(text string, n int) (string, error) {
		truncated++
		return text, nil
	}))

	q := NewQuery("drilling holes in wood", classify.Resolution{Category: "drills"}, beginner(), store, 50)
	cands, err := s.Score(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"p-drill-basic": 0.9, "p-bit-wood": 1}, scores(cands))
	assert.Positive(t, truncated)
	assert.Contains(t, client.lastPrompt, "drilling holes in wood")
	assert.Contains(t, client.lastPrompt, "id: p-drill-basic")
	assert.Equal(t, []string{ai.RelevanceSystemPrompt}, client.lastOpts.SystemPrompts)
}

func TestSemanticGenerativeOptions(t *testing.T) {
	store := openStore(t)
	client := &fakeScorer{scores: []ai.RelevanceScore{{ID: "p-drill-basic", Relevance: 0.5}}}
	s := NewSemanticStrategy(client, ModeGenerative, 20,
		WithGenerateOptions(ai.WithModel("rater")),
		WithGenerateOptions(ai.WithThinking("low")),
	)

	q := NewQuery("drill", classify.Resolution{Category: "drills"}, beginner(), store, 50)
	_, err := s.Score(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "rater", client.lastOpts.Model)
	assert.Equal(t, "low", client.lastOpts.Thinking)
	assert.Zero(t, client.lastOpts.Temperature)
}

func TestSemanticBreakerOpensAfterRepeatedFailures(t *testing.T) {
	store := openStore(t)
	client := &fakeScorer{err: errors.New("connection refused")}
	s := NewSemanticStrategy(client, ModeEmbedding, 20)
	q := NewQuery("drill", classify.Resolution{Category: "drills"}, beginner(), store, 50)

	for range 10 {
		_, err := s.Score(context.Background(), q)
		require.ErrorIs(t, err, ErrStrategyUnavailable)
	}
	calls := client.embedCalls.Load()

	_, err := s.Score(context.Background(), q)
	assert.ErrorIs(t, err, ErrStrategyUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, calls, client.embedCalls.Load())
	assert.Equal(t, float64(gobreaker.StateOpen), testutil.ToFloat64(metrics.SemanticBreakerState))
}

func TestParseSemanticMode(t *testing.T) {
	m, err := ParseSemanticMode(" Generative ")
	require.NoError(t, err)
	assert.Equal(t, ModeGenerative, m)
	_, err = ParseSemanticMode("oracle")
	assert.ErrorIs(t, err, ErrConfiguration)
}
