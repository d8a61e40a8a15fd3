package recommend

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenarioWeights = Weights{Graph: 0.4, Content: 0.3, Collaborative: 0.2, Semantic: 0.1}

func TestWeightsValidate(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{"exact", scenarioWeights, false},
		{"within tolerance", Weights{Graph: 0.25, Content: 0.25, Collaborative: 0.25, Semantic: 0.25 + 9e-7}, false},
		{"one strategy only", Weights{Graph: 1, Content: 0, Collaborative: 0, Semantic: 0}, false},
		{"beyond tolerance", Weights{Graph: 0.25, Content: 0.25, Collaborative: 0.25, Semantic: 0.25 + 2e-6}, true},
		{"short", Weights{Graph: 0.4, Content: 0.3, Collaborative: 0.2, Semantic: 0.05}, true},
		{"missing", Weights{Graph: 0.5, Content: 0.5, Collaborative: 0}, true},
		{"negative", Weights{Graph: 1.2, Content: -0.2, Collaborative: 0, Semantic: 0}, true},
		{"nan", Weights{Graph: math.NaN(), Content: 0.5, Collaborative: 0.5, Semantic: 0}, true},
		{"inf", Weights{Graph: math.Inf(1), Content: 0, Collaborative: 0, Semantic: 0}, true},
		{"unknown strategy", Weights{Graph: 0.4, Content: 0.3, Collaborative: 0.2, Semantic: 0.1, "popularity": 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConfiguration)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestWeightsValidateSplits(t *testing.T) {
	// every split of 1 into four tenths passes, every split off by a tenth fails
	for g := 0; g <= 10; g++ {
		for c := 0; c <= 10-g; c++ {
			for k := 0; k <= 10-g-c; k++ {
				s := 10 - g - c - k
				w := Weights{Graph: float64(g) / 10, Content: float64(c) / 10, Collaborative: float64(k) / 10, Semantic: float64(s) / 10}
				require.NoError(t, w.Validate(), "%v", w)
				w[Semantic] += 0.1
				require.ErrorIs(t, w.Validate(), ErrConfiguration, "%v", w)
			}
		}
	}
}

func TestWeightsVersionChangesWithWeights(t *testing.T) {
	other := Weights{Graph: 0.1, Content: 0.2, Collaborative: 0.3, Semantic: 0.4}
	assert.Equal(t, scenarioWeights.Version(), Weights{Semantic: 0.1, Collaborative: 0.2, Content: 0.3, Graph: 0.4}.Version())
	assert.NotEqual(t, scenarioWeights.Version(), other.Version())
}

func okOutcome(name Name, cands ...Candidate) outcome {
	return outcome{name: name, status: StatusOK, candidates: cands}
}

func TestFuseRenormalizesWhenSemanticIsUnavailable(t *testing.T) {
	outcomes := []outcome{
		okOutcome(Graph, Candidate{ProductID: "a", Score: 1}),
		okOutcome(Content, Candidate{ProductID: "a", Score: 0.5}, Candidate{ProductID: "b", Score: 1}),
		okOutcome(Collaborative, Candidate{ProductID: "b", Score: 1}),
		{name: Semantic, status: StatusUnavailable, err: errors.New("timeout")},
	}
	f, err := fuse(outcomes, scenarioWeights)
	require.NoError(t, err)

	assert.InDelta(t, 0.4/0.9, f.Effective[Graph], 1e-9)
	assert.InDelta(t, 0.3/0.9, f.Effective[Content], 1e-9)
	assert.InDelta(t, 0.2/0.9, f.Effective[Collaborative], 1e-9)
	assert.Zero(t, f.Effective[Semantic])
	var sum float64
	for _, w := range f.Effective {
		sum += w
	}
	assert.InDelta(t, 1, sum, 1e-9)

	require.Len(t, f.Items, 2)
	a, b := f.Items[0], f.Items[1]
	assert.Equal(t, "a", a.ProductID)
	assert.InDelta(t, 0.4/0.9+0.15/0.9, a.Score, 1e-9)
	assert.InDelta(t, 0.7/0.9, a.Confidence, 1e-9)
	assert.Equal(t, 1.0, a.GraphRaw)
	assert.Equal(t, []string(nil), a.Reasoning)
	assert.InDelta(t, 0.5/0.9, b.Score, 1e-9)
	assert.NotContains(t, b.Contributions, Graph)
}

func TestFuseNoSignalKeepsItsWeight(t *testing.T) {
	outcomes := []outcome{
		okOutcome(Graph, Candidate{ProductID: "a", Score: 1, Reasoning: "edge"}),
		{name: Content, status: StatusNoSignal},
		{name: Collaborative, status: StatusUnavailable, err: errors.New("down")},
		{name: Semantic, status: StatusUnavailable, err: errors.New("down")},
	}
	f, err := fuse(outcomes, scenarioWeights)
	require.NoError(t, err)
	assert.InDelta(t, 4.0/7, f.Effective[Graph], 1e-9)
	assert.InDelta(t, 3.0/7, f.Effective[Content], 1e-9)
	require.Len(t, f.Items, 1)
	assert.InDelta(t, 4.0/7, f.Items[0].Score, 1e-9)
	assert.Equal(t, []string{"graph: edge"}, f.Items[0].Reasoning)
}

func TestFuseAllUnavailable(t *testing.T) {
	var outcomes []outcome
	for _, n := range Names {
		outcomes = append(outcomes, outcome{name: n, status: StatusUnavailable, err: errors.New("down")})
	}
	_, err := fuse(outcomes, scenarioWeights)
	assert.ErrorIs(t, err, ErrRecommendationUnavailable)
}

func TestFuseUnavailableReasonNamesStrategyOnce(t *testing.T) {
	outcomes := []outcome{
		newOutcome(Graph, nil, unavailable(Graph, errors.New("down"))),
		newOutcome(Content, nil, errors.New("index missing")),
		newOutcome(Collaborative, nil, unavailable(Collaborative, errors.New("down"))),
		newOutcome(Semantic, nil, unavailable(Semantic, errors.New("down"))),
	}
	_, err := fuse(outcomes, scenarioWeights)
	require.ErrorIs(t, err, ErrRecommendationUnavailable)

	msg := err.Error()
	assert.Contains(t, msg, "graph: strategy unavailable: down")
	assert.Contains(t, msg, "content: strategy unavailable: index missing")
	assert.NotContains(t, msg, "graph: graph:")
	assert.NotContains(t, msg, "content: content:")
}

func TestFuseOnlyZeroWeightStrategiesAnswered(t *testing.T) {
	w := Weights{Graph: 1, Content: 0, Collaborative: 0, Semantic: 0}
	outcomes := []outcome{
		{name: Graph, status: StatusUnavailable, err: errors.New("down")},
		okOutcome(Content, Candidate{ProductID: "a", Score: 1}),
		{name: Collaborative, status: StatusNoSignal},
		{name: Semantic, status: StatusNoSignal},
	}
	_, err := fuse(outcomes, w)
	assert.ErrorIs(t, err, ErrRecommendationUnavailable)
}

func TestFuseClampsAndKeepsBestPerStrategy(t *testing.T) {
	outcomes := []outcome{
		okOutcome(Graph, Candidate{ProductID: "a", Score: 0.3}, Candidate{ProductID: "a", Score: 7}),
		okOutcome(Content, Candidate{ProductID: "b", Score: -2}),
		{name: Collaborative, status: StatusNoSignal},
		{name: Semantic, status: StatusNoSignal},
	}
	f, err := fuse(outcomes, scenarioWeights)
	require.NoError(t, err)
	require.Len(t, f.Items, 2)
	assert.InDelta(t, 0.4, f.Items[0].Score, 1e-9)
	assert.Equal(t, 1.0, f.Items[0].GraphRaw)
	assert.Zero(t, f.Items[1].Score)
}

func TestRankTieBreaks(t *testing.T) {
	prices := map[string]float64{"cheap": 10, "dear": 20, "a": 5, "b": 5}
	items := []fusedItem{
		{ProductID: "dear", Score: 0.5, GraphRaw: 0.2},
		{ProductID: "b", Score: 0.5, GraphRaw: 0.2},
		{ProductID: "cheap", Score: 0.5, GraphRaw: 0.2},
		{ProductID: "graph", Score: 0.5, GraphRaw: 0.9},
		{ProductID: "a", Score: 0.5 + 1e-14, GraphRaw: 0.2},
		{ProductID: "top", Score: 0.8},
	}
	rankItems(items, func(id string) float64 { return prices[id] })

	var got []string
	for _, it := range items {
		got = append(got, it.ProductID)
	}
	assert.Equal(t, []string{"top", "graph", "a", "b", "cheap", "dear"}, got)
}
