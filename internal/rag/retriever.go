package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"nexora-chat/internal/vectorindex"
)

type cachedHandle struct {
	generation string
	handle     *vectorindex.Handle
}

// Retriever embeds a question and searches a named store. Loaded handles are
// cached per store and reloaded when the store's generation changes.
type Retriever struct {
	embedder Embedder
	store    *vectorindex.Store

	mu      sync.RWMutex
	handles map[string]cachedHandle
}

func NewRetriever(embedder Embedder, store *vectorindex.Store) *Retriever {
	return &Retriever{
		embedder: embedder,
		store:    store,
		handles:  make(map[string]cachedHandle),
	}
}

// Retrieve returns up to k passages from storeName, most relevant first.
// k <= 0 uses DefaultTopK.
func (r *Retriever) Retrieve(ctx context.Context, question, storeName string, k int) ([]Passage, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrInvalidParameters)
	}
	if k <= 0 {
		k = DefaultTopK
	}

	handle, err := r.handle(storeName)
	if err != nil {
		return nil, classifyRetrieval(err)
	}

	vector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, embeddingFailure(err)
	}

	matches, err := handle.Search(ctx, vector, k)
	if err != nil {
		return nil, classifyRetrieval(err)
	}

	passages := make([]Passage, len(matches))
	for i, m := range matches {
		passages[i] = Passage{Text: m.Text, Score: m.Score}
	}
	return passages, nil
}

// Forget drops the cached handle for storeName.
func (r *Retriever) Forget(storeName string) {
	r.mu.Lock()
	delete(r.handles, storeName)
	r.mu.Unlock()
}

func (r *Retriever) handle(storeName string) (*vectorindex.Handle, error) {
	generation, err := r.store.Generation(storeName)
	if err != nil {
		r.Forget(storeName)
		return nil, err
	}

	r.mu.RLock()
	cached, ok := r.handles[storeName]
	r.mu.RUnlock()
	if ok && cached.generation == generation {
		return cached.handle, nil
	}

	handle, err := r.store.Load(storeName, r.embedder.Model())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.handles[storeName] = cachedHandle{generation: handle.Manifest().Generation, handle: handle}
	r.mu.Unlock()
	return handle, nil
}

// classifyRetrieval keeps the documented taxonomy visible and wraps anything
// else as ErrRetrieval.
func classifyRetrieval(err error) error {
	switch {
	case errors.Is(err, ErrIndexNotFound),
		errors.Is(err, ErrEmbeddingUnavailable),
		errors.Is(err, ErrInvalidParameters),
		errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
}

func embeddingFailure(err error) error {
	if errors.Is(err, ErrEmbeddingUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
}
