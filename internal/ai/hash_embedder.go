package ai

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"nexora-chat/internal/rag"
)

const defaultHashDimension = 256

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"can": {}, "do": {}, "does": {}, "did": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"how": {}, "i": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "so": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "whom": {}, "why": {},
	"will": {}, "with": {}, "you": {},
}

// HashEmbedder is an offline bag-of-words embedder using feature hashing.
// It needs no network and is deterministic, which makes it suitable for local
// development and tests. Vectors are L2-normalized.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = defaultHashDimension
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Model() string {
	return fmt.Sprintf("hash-v1-%d", e.dim)
}

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: embedding input is empty", rag.ErrInvalidParameters)
	}

	tokens := Tokenize(text)
	if len(tokens) == 0 {
		// Only stop words or punctuation: fall back to the raw text so the vector is never zero.
		tokens = []string{strings.ToLower(strings.TrimSpace(text))}
	}

	v := make([]float64, e.dim)
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		v[h.Sum32()%uint32(e.dim)]++
	}

	var sum float64
	for _, x := range v {
		sum += x * x
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, e.dim)
	for i, x := range v {
		out[i] = float32(x * inv)
	}
	return out, nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Tokenize lowercases text, splits it on anything that is not a letter or a
// digit and drops stop words.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
