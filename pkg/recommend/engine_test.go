package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/cache"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/catalog"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/classify"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/collab"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = "../store/memory/testdata/catalog.json"

type fakeStrategy struct {
	name  Name
	cands []Candidate
	err   error
	delay time.Duration
	// deaf strategies sleep through cancellation
	deaf  bool
	calls atomic.Int32
}

func (f *fakeStrategy) Name() Name { return f.name }

func (f *fakeStrategy) Score(ctx context.Context, q *Query) ([]Candidate, error) {
	f.calls.Add(1)
	if f.deaf {
		time.Sleep(f.delay)
		return f.cands, f.err
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.cands, f.err
}

type harness struct {
	store   *memory.Store
	gen     *catalog.Generation
	catalog *catalog.Service
	engine  *Engine
}

func testConfig() Config {
	return Config{
		Weights:            scenarioWeights,
		RequestTimeout:     2 * time.Second,
		SemanticTimeout:    50 * time.Millisecond,
		ResultLimit:        10,
		CandidateLimit:     50,
		AccessoryLimit:     5,
		PrimaryLanguage:    "en",
		SupportedLanguages: []string{"en", "de", "zh"},
	}
}

// newHarness wires the engine against the fixture catalog. Strategies that
// are not overridden use their real implementation, except semantic, which
// defaults to a no-signal fake.
func newHarness(t *testing.T, overrides ...Strategy) *harness {
	t.Helper()
	store, err := memory.Open(fixture, "en")
	require.NoError(t, err)

	idx := classify.New(classify.NewFileSource(fixture))
	_, err = idx.Reload(context.Background())
	require.NoError(t, err)

	stats, err := collab.LoadFile(fixture)
	require.NoError(t, err)

	initial, err := store.CatalogGeneration(context.Background())
	require.NoError(t, err)
	gen := catalog.NewGeneration(initial)

	cfg := testConfig()
	byName := map[Name]Strategy{
		Graph:         NewGraphStrategy(store, cfg.CandidateLimit),
		Content:       NewContentStrategy(),
		Collaborative: NewCollaborativeStrategy(stats, cfg.CandidateLimit),
		Semantic:      &fakeStrategy{name: Semantic},
	}
	for _, s := range overrides {
		byName[s.Name()] = s
	}
	var strategies []Strategy
	for _, n := range Names {
		strategies = append(strategies, byName[n])
	}

	layer := cache.NewLayer[RankedResult](cache.NewMemoryStore(time.Now), time.Minute, gen)
	engine, err := NewEngine(cfg, store, idx, layer, strategies...)
	require.NoError(t, err)

	return &harness{
		store:   store,
		gen:     gen,
		catalog: catalog.NewService(store, gen, nil, "test"),
		engine:  engine,
	}
}

func beginner() Context {
	return Context{SkillLevel: common.SkillBeginner, Language: "en"}
}

func itemIDs(res RankedResult) []string {
	var ids []string
	for _, it := range res.Items {
		ids = append(ids, it.Product.ID)
	}
	return ids
}

func TestBeginnerNeverSeesAdvancedProducts(t *testing.T) {
	h := newHarness(t)
	res, _, err := h.engine.Recommend(context.Background(), "drilling holes in wood", beginner())
	require.NoError(t, err)

	assert.Equal(t, "drill_wood", res.TaskID)
	assert.Equal(t, "drills", res.Category)
	require.NotEmpty(t, res.Items)
	assert.Equal(t, "p-drill-basic", res.Items[0].Product.ID)
	for _, it := range res.Items {
		assert.True(t, common.SkillBeginner.Permits(it.Product.Difficulty), "%s is %s", it.Product.ID, it.Product.Difficulty)
		for _, acc := range it.CompatibleAccessories {
			assert.True(t, common.SkillBeginner.Permits(acc.Product.Difficulty))
		}
	}
	assert.NotContains(t, itemIDs(res), "p-drill-pro")
	assert.NotContains(t, itemIDs(res), "p-drill-mid")
}

func TestSkillLevelWidensResults(t *testing.T) {
	h := newHarness(t)
	rc := beginner()
	rc.SkillLevel = common.SkillAdvanced
	res, _, err := h.engine.Recommend(context.Background(), "drilling holes in wood", rc)
	require.NoError(t, err)
	assert.Contains(t, itemIDs(res), "p-drill-pro")
	assert.Contains(t, itemIDs(res), "p-drill-mid")
}

func TestMandatorySafetyIsAttached(t *testing.T) {
	h := newHarness(t)
	res, _, err := h.engine.Recommend(context.Background(), "drilling holes in wood", beginner())
	require.NoError(t, err)

	var basic *RankedItem
	for i := range res.Items {
		if res.Items[i].Product.ID == "p-drill-basic" {
			basic = &res.Items[i]
		}
	}
	require.NotNil(t, basic)

	var safety []string
	for _, s := range basic.MandatorySafety {
		safety = append(safety, s.ID)
	}
	assert.Contains(t, safety, "goggles")

	accessories := map[string]Accessory{}
	for _, a := range basic.CompatibleAccessories {
		accessories[a.Product.ID] = a
	}
	require.Contains(t, accessories, "p-battery-12v")
	assert.True(t, accessories["p-battery-12v"].Required)
	require.Contains(t, accessories, "p-bit-wood")
	assert.True(t, accessories["p-bit-wood"].Recommended)
}

func TestSemanticTimeoutRenormalizesWeights(t *testing.T) {
	slow := &fakeStrategy{name: Semantic, delay: time.Second, cands: []Candidate{{ProductID: "p-sander", Score: 1}}}
	h := newHarness(t, slow)

	start := time.Now()
	res, _, err := h.engine.Recommend(context.Background(), "drilling holes in wood", beginner())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.InDelta(t, 0.444, res.EffectiveWeights[Graph], 1e-3)
	assert.InDelta(t, 0.333, res.EffectiveWeights[Content], 1e-3)
	assert.InDelta(t, 0.222, res.EffectiveWeights[Collaborative], 1e-3)
	assert.Zero(t, res.EffectiveWeights[Semantic])
	assert.InDelta(t, 1, res.EffectiveWeights[Graph]+res.EffectiveWeights[Content]+res.EffectiveWeights[Collaborative], 1e-9)

	require.Len(t, res.Strategies, 4)
	assert.Equal(t, Semantic, res.Strategies[3].Strategy)
	assert.Equal(t, StatusUnavailable, res.Strategies[3].Status)
	assert.NotEmpty(t, res.Strategies[3].Reason)
	for _, it := range res.Items {
		assert.NotContains(t, it.PerSourceContribution, Semantic)
	}
}

func TestLateSemanticAnswerIsDiscarded(t *testing.T) {
	late := &fakeStrategy{name: Semantic, delay: 200 * time.Millisecond, deaf: true,
		cands: []Candidate{{ProductID: "p-drill-basic", Score: 1}}}
	h := newHarness(t, late)

	res, _, err := h.engine.Recommend(context.Background(), "drilling holes in wood", beginner())
	require.NoError(t, err)

	require.Len(t, res.Strategies, 4)
	sem := res.Strategies[3]
	assert.Equal(t, Semantic, sem.Strategy)
	assert.Equal(t, StatusUnavailable, sem.Status)
	assert.Contains(t, sem.Reason, "timed out")
	assert.Less(t, sem.DurationMs, int64(200))
	assert.Zero(t, res.EffectiveWeights[Semantic])
	for _, it := range res.Items {
		assert.NotContains(t, it.PerSourceContribution, Semantic)
	}
}

func TestCancelledCallerDoesNotFailSharedRequest(t *testing.T) {
	slow := func(n Name, id string) *fakeStrategy {
		return &fakeStrategy{name: n, delay: 200 * time.Millisecond, cands: []Candidate{{ProductID: id, Score: 0.9}}}
	}
	h := newHarness(t,
		slow(Graph, "p-drill-basic"),
		slow(Content, "p-drill-basic"),
		slow(Collaborative, "p-bit-wood"),
		&fakeStrategy{name: Semantic},
	)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := h.engine.Recommend(firstCtx, "drilling holes in wood", beginner())
		firstErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	type got struct {
		res RankedResult
		err error
	}
	second := make(chan got, 1)
	go func() {
		res, _, err := h.engine.Recommend(context.Background(), "drilling holes in wood", beginner())
		second <- got{res, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancelFirst()

	err := <-firstErr
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrRecommendationUnavailable)

	r := <-second
	require.NoError(t, r.err)
	assert.Contains(t, itemIDs(r.res), "p-drill-basic")
	assert.Equal(t, StatusOK, r.res.Strategies[0].Status)
}

func TestRequestTimeoutAbandonsSlowStrategies(t *testing.T) {
	h := newHarness(t,
		&fakeStrategy{name: Content, delay: 10 * time.Second},
		&fakeStrategy{name: Collaborative, delay: 10 * time.Second},
	)
	h.engine.cfg.RequestTimeout = 100 * time.Millisecond

	start := time.Now()
	res, _, err := h.engine.Recommend(context.Background(), "drilling holes in wood", beginner())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StatusOK, res.Strategies[0].Status)
	assert.Equal(t, StatusUnavailable, res.Strategies[1].Status)
	assert.Equal(t, StatusUnavailable, res.Strategies[2].Status)
	assert.InDelta(t, 0.8, res.EffectiveWeights[Graph], 1e-9)
}

func TestAllStrategiesUnavailable(t *testing.T) {
	down := errors.New("backend down")
	h := newHarness(t,
		&fakeStrategy{name: Graph, err: unavailable(Graph, down)},
		&fakeStrategy{name: Content, err: unavailable(Content, down)},
		&fakeStrategy{name: Collaborative, err: unavailable(Collaborative, down)},
		&fakeStrategy{name: Semantic, err: unavailable(Semantic, down)},
	)
	res, _, err := h.engine.Recommend(context.Background(), "drilling holes in wood", beginner())
	assert.ErrorIs(t, err, ErrRecommendationUnavailable)
	assert.Empty(t, res.Items)
	assert.Nil(t, res.Strategies)
}

func TestNothingMatchedIsNotAnError(t *testing.T) {
	h := newHarness(t,
		&fakeStrategy{name: Graph},
		&fakeStrategy{name: Content, err: ErrNoSignal},
		&fakeStrategy{name: Collaborative},
		&fakeStrategy{name: Semantic, err: unavailable(Semantic, errors.New("down"))},
	)
	res, _, err := h.engine.Recommend(context.Background(), "something unknown", beginner())
	require.NoError(t, err)
	assert.NotNil(t, res.Items)
	assert.Empty(t, res.Items)
	assert.Equal(t, StatusNoSignal, res.Strategies[0].Status)
	assert.Equal(t, StatusUnavailable, res.Strategies[3].Status)
}

func TestIdenticalRequestsHitTheCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, status, err := h.engine.Recommend(ctx, "drilling holes in wood", beginner())
	require.NoError(t, err)
	assert.Equal(t, cache.StatusMiss, status)

	second, status, err := h.engine.Recommend(ctx, "Drilling  holes in wood!", beginner())
	require.NoError(t, err)
	assert.Equal(t, cache.StatusHit, status)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCacheKeyIncludesContext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _, err := h.engine.Recommend(ctx, "drilling holes in wood", beginner())
	require.NoError(t, err)

	rc := beginner()
	budget := 20.0
	rc.BudgetCeiling = &budget
	res, status, err := h.engine.Recommend(ctx, "drilling holes in wood", rc)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusMiss, status)
	for _, it := range res.Items {
		assert.LessOrEqual(t, it.Product.Price, budget)
	}
	assert.NotContains(t, itemIDs(res), "p-drill-basic")
}

func TestUpsertInvalidatesCachedResult(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	before, _, err := h.engine.Recommend(ctx, "drilling holes in wood", beginner())
	require.NoError(t, err)
	require.Equal(t, "p-drill-basic", before.Items[0].Product.ID)

	products, err := h.store.GetProducts(ctx, []string{"p-drill-basic"})
	require.NoError(t, err)
	p := products["p-drill-basic"]
	p.Price = 39.9
	_, err = h.catalog.UpsertProduct(ctx, p, common.ProductRelationships{
		UsedFor:        []common.UsedFor{{TaskID: "drill_wood", Confidence: 0.9, IsPrimaryTool: true}},
		RequiresSafety: []common.RequiresSafety{{EquipmentID: "goggles", Mandatory: true}},
		ClassifiedAs:   []common.ClassifiedAs{{Family: common.FamilyCommodity, Code: "27110101"}},
	})
	require.NoError(t, err)

	after, status, err := h.engine.Recommend(ctx, "drilling holes in wood", beginner())
	require.NoError(t, err)
	assert.Equal(t, cache.StatusStale, status)
	for _, it := range after.Items {
		if it.Product.ID == "p-drill-basic" {
			assert.Equal(t, 39.9, it.Product.Price)
			assert.Empty(t, it.CompatibleAccessories)
		}
	}
}

func TestInvalidRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	negative := -1.0

	tests := []struct {
		name  string
		query string
		rc    Context
	}{
		{"empty query", "  ", beginner()},
		{"missing skill level", "drill", Context{Language: "en"}},
		{"unsupported language", "drill", Context{SkillLevel: common.SkillBeginner, Language: "fr"}},
		{"negative budget", "drill", Context{SkillLevel: common.SkillBeginner, BudgetCeiling: &negative}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := h.engine.Recommend(ctx, tt.query, tt.rc)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestLanguageDefaultsToPrimary(t *testing.T) {
	h := newHarness(t)
	res, _, err := h.engine.Recommend(context.Background(), "drilling holes in wood", Context{SkillLevel: common.SkillBeginner})
	require.NoError(t, err)
	assert.Equal(t, "en", res.Context.Language)
}

func TestNewEngineRequiresEveryStrategy(t *testing.T) {
	cfg := testConfig()
	_, err := NewEngine(cfg, nil, nil, nil,
		&fakeStrategy{name: Graph}, &fakeStrategy{name: Content}, &fakeStrategy{name: Collaborative})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewEngine(cfg, nil, nil, nil,
		&fakeStrategy{name: Graph}, &fakeStrategy{name: Graph}, &fakeStrategy{name: Collaborative}, &fakeStrategy{name: Semantic})
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg.SemanticTimeout = 3 * cfg.RequestTimeout
	_, err = NewEngine(cfg, nil, nil, nil,
		&fakeStrategy{name: Graph}, &fakeStrategy{name: Content}, &fakeStrategy{name: Collaborative}, &fakeStrategy{name: Semantic})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestProjectTypeAddsProjectProducts(t *testing.T) {
	h := newHarness(t)
	rc := beginner()
	rc.ProjectType = "bookshelf"
	res, _, err := h.engine.Recommend(context.Background(), "drilling holes in wood", rc)
	require.NoError(t, err)
	assert.Contains(t, itemIDs(res), "p-sander")
}
