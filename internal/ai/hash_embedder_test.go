package ai

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexora-chat/internal/rag"
)

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestHashEmbedder_DeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "The sky is blue.")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "the SKY is blue")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, norm(a), 1e-6)
	assert.Equal(t, "hash-v1-64", e.Model())
}

func TestHashEmbedder_StopWordsOnlyStillEmbeds(t *testing.T) {
	e := NewHashEmbedder(0)

	v, err := e.Embed(context.Background(), "what is the")
	require.NoError(t, err)
	assert.Len(t, v, defaultHashDimension)
	assert.InDelta(t, 1.0, norm(v), 1e-6)

	_, err = e.Embed(context.Background(), "  \n")
	assert.ErrorIs(t, err, rag.ErrInvalidParameters)
}

func TestHashEmbedder_EmbedBatchOrder(t *testing.T) {
	e := NewHashEmbedder(32)
	ctx := context.Background()
	texts := []string{"red apples", "blue sky", "green grass"}

	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))
	for i, text := range texts {
		single, err := e.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"color", "sky"}, Tokenize("What color is the sky?"))
	assert.Equal(t, []string{"water", "boils", "100", "c"}, Tokenize("Water boils at 100°C."))
	assert.Empty(t, Tokenize("is the"))
}
