package openai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmbeddingInputsSkipsBlank(t *testing.T) {
	idx, in, out := normalizeEmbeddingInputs([][]byte{[]byte("drill"), []byte("  "), []byte("saw")}, 4)
	assert.Equal(t, []int{0, 2}, idx)
	assert.Equal(t, []string{"drill", "saw"}, in)
	require.Len(t, out, 3)
	assert.Equal(t, make([]float32, 4), out[1])
	assert.Nil(t, out[0])
}

func TestBlankInputsNeedNoBackend(t *testing.T) {
	c := NewGraphOpenAIClient(NewGraphOpenAIClientParams{Dimensions: 3})
	assert.Nil(t, c.EmbeddingClient)

	out, err := c.GenerateEmbeddings(context.Background(), [][]byte{[]byte(""), nil})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 0, 0}, {0, 0, 0}}, out)

	_, err = c.GenerateEmbedding(context.Background(), []byte("drill"))
	assert.Error(t, err)
}
