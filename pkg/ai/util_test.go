package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCompletionRelevance(t *testing.T) {
	want := []RelevanceScore{
		{ID: "p-drill-basic", Relevance: 0.8, Reason: "cordless drill"},
		{ID: "p-sander", Relevance: 0.1},
	}

	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "clean object",
			input: `{"scores":[{"id":"p-drill-basic","relevance":0.8,"reason":"cordless drill"},{"id":"p-sander","relevance":0.1}]}`,
		},
		{
			name:  "code fence",
			input: "```json\n{\"scores\":[{\"id\":\"p-drill-basic\",\"relevance\":0.8,\"reason\":\"cordless drill\"},{\"id\":\"p-sander\",\"relevance\":0.1}]}\n```",
		},
		{
			name:  "double encoded",
			input: `"{\"scores\":[{\"id\":\"p-drill-basic\",\"relevance\":0.8,\"reason\":\"cordless drill\"},{\"id\":\"p-sander\",\"relevance\":0.1}]}"`,
		},
		{
			name:  "unquoted keys and single quotes",
			input: `{scores: [{id: 'p-drill-basic', relevance: 0.8, reason: 'cordless drill'}, {id: 'p-sander', relevance: 0.1}]}`,
		},
		{
			name:  "trailing commas",
			input: `{"scores":[{"id":"p-drill-basic","relevance":0.8,"reason":"cordless drill",},{"id":"p-sander","relevance":0.1,},]}`,
		},
		{
			name:  "cut off",
			input: `{"scores":[{"id":"p-drill-basic","relevance":0.8,"reason":"cordless drill"},{"id":"p-sander","relevance":0.1`,
		},
		{
			name:  "bare array",
			input: `[{"id":"p-drill-basic","relevance":0.8,"reason":"cordless drill"},{"id":"p-sander","relevance":0.1}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got RelevanceResponse
			require.NoError(t, DecodeCompletion(tt.input, &got))
			assert.Equal(t, want, got.Scores)
		})
	}
}

func TestDecodeCompletionEmptyScores(t *testing.T) {
	var got RelevanceResponse
	require.NoError(t, DecodeCompletion(`{"scores": []}`, &got))
	assert.Empty(t, got.Scores)
}

func TestDecodeCompletionRejectsWrongTypes(t *testing.T) {
	var got RelevanceResponse
	err := DecodeCompletion(`{"scores":[{"id":"p-drill-basic","relevance":"high"}]}`, &got)
	assert.Error(t, err)
}

func TestUnmarshalFlexibleOtherTargets(t *testing.T) {
	var ids []string
	require.NoError(t, UnmarshalFlexible("```\n['p-bit-wood', 'p-battery-12v',]\n```", &ids))
	assert.Equal(t, []string{"p-bit-wood", "p-battery-12v"}, ids)

	var score RelevanceScore
	require.NoError(t, DecodeCompletion(`{"id": "p-sander", "relevance": 0.4}`, &score))
	assert.Equal(t, RelevanceScore{ID: "p-sander", Relevance: 0.4}, score)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("  {\"a\":1} "))
}
