package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecorder(t *testing.T) {
	var r MetricsRecorder
	r.Add(ModelMetrics{InputTokens: 10, TotalTokens: 10, DurationMs: 1000})
	r.Add(ModelMetrics{InputTokens: 5, OutputTokens: 5, TotalTokens: 10, DurationMs: 1000})

	m := r.Snapshot()
	assert.Equal(t, 15, m.InputTokens)
	assert.Equal(t, 20, m.TotalTokens)
	assert.Equal(t, 2, m.Requests)
	assert.InDelta(t, 10.0, m.TokenPerSecond, 0.001)

	r.Reset()
	assert.Equal(t, ModelMetrics{}, r.Snapshot())
}

func TestFitDimension(t *testing.T) {
	assert.Equal(t, []float32{1, 2, 0}, FitDimension([]float64{1, 2}, 3))
	assert.Equal(t, []float32{1}, FitDimension([]float64{1, 2}, 1))
}

func TestTruncateToTokens(t *testing.T) {
	text := strings.Repeat("cordless drill ", 200)
	n, err := CountTokens(text)
	require.NoError(t, err)
	require.Greater(t, n, 50)

	short, err := TruncateToTokens(text, 50)
	require.NoError(t, err)
	got, err := CountTokens(short)
	require.NoError(t, err)
	assert.LessOrEqual(t, got, 50)
	assert.True(t, strings.HasPrefix(text, short))

	same, err := TruncateToTokens("hammer", 50)
	require.NoError(t, err)
	assert.Equal(t, "hammer", same)
}

func TestRelevancePromptListsCandidates(t *testing.T) {
	p := RelevancePrompt(" drill holes ", []RelevanceCandidate{
		{ID: "p1", Name: "Drill", Description: "cordless"},
		{ID: "p2", Name: "Saw"},
	})
	assert.Contains(t, p, "Request: drill holes")
	assert.Contains(t, p, "id: p1")
	assert.Contains(t, p, "description: cordless")
	assert.NotContains(t, p, "description: \n")
}

func TestGenerateSchemaForRelevance(t *testing.T) {
	schema := GenerateSchema(&RelevanceResponse{})
	require.NotNil(t, schema)
}
