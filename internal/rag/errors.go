package rag

import (
	"errors"

	"nexora-chat/internal/vectorindex"
)

var (
	ErrInvalidParameters    = vectorindex.ErrInvalidParameters
	ErrIndexNotFound        = vectorindex.ErrIndexNotFound
	ErrIndexCorrupt         = vectorindex.ErrIndexCorrupt
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
	ErrSynthesis            = errors.New("answer synthesis failed")
	ErrRetrieval            = errors.New("retrieval failed")
)
