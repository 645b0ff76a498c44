// Package rag implements retrieval-augmented question answering over named
// vector stores: chunking, retrieval and grounded answer synthesis.
package rag

import "context"

// DefaultTopK is the number of passages retrieved when the caller does not ask for a specific count.
const DefaultTopK = 4

// Embedder maps text to vectors. EmbedBatch returns one vector per input, in input order.
// Model identifies the embedding model so indexes can refuse vectors from another one.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

type Message struct {
	Role    string
	Content string
}

// Completer runs one chat completion and returns the model's text.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Passage is one retrieved chunk, most relevant first in a result.
type Passage struct {
	Text  string  `json:"text"`
	Score float32 `json:"score"`
}

// Answer is the synthesized reply. Grounded is false when the context did not
// hold the answer and Text carries the not-found sentinel.
type Answer struct {
	Text     string `json:"answer"`
	Grounded bool   `json:"grounded"`
}

func passageTexts(passages []Passage) []string {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	return texts
}
