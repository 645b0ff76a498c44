package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"nexora-chat/internal/metrics"
	"nexora-chat/internal/vectorindex"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultBatchSize    = 10
)

type PipelineConfig struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
	// BatchSize bounds how many chunks go to the embedder per call.
	BatchSize int
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
		if c.ChunkOverlap == 0 {
			c.ChunkOverlap = DefaultChunkOverlap
		}
	}
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// Pipeline holds everything a request needs: configuration, the embedder, the
// store and the cached handles. Build one at startup and share it.
type Pipeline struct {
	cfg         PipelineConfig
	embedder    Embedder
	store       *vectorindex.Store
	retriever   *Retriever
	synthesizer *Synthesizer
	logger      *zap.Logger
	metrics     *metrics.Collectors
}

func NewPipeline(
	cfg PipelineConfig,
	embedder Embedder,
	store *vectorindex.Store,
	completer Completer,
	logger *zap.Logger,
	collectors *metrics.Collectors,
) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if cfg.ChunkSize <= 0 || cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("%w: chunk size %d, overlap %d", ErrInvalidParameters, cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if embedder == nil || store == nil || completer == nil {
		return nil, fmt.Errorf("%w: pipeline needs an embedder, a store and a completer", ErrInvalidParameters)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:         cfg,
		embedder:    embedder,
		store:       store,
		retriever:   NewRetriever(embedder, store),
		synthesizer: NewSynthesizer(completer),
		logger:      logger,
		metrics:     collectors,
	}, nil
}

// Store exposes the underlying vector store for inspection.
func (p *Pipeline) Store() *vectorindex.Store {
	return p.store
}

// EmbeddingModel is the model identity recorded in every index this pipeline builds.
func (p *Pipeline) EmbeddingModel() string {
	return p.embedder.Model()
}

type IngestRequest struct {
	Store string
	Text  string
	// TriggeredBy is recorded for attribution only.
	TriggeredBy string
	// OnCommit runs once the new generation is live, before another build of
	// the same store can commit.
	OnCommit func(*IngestResult)
}

type IngestResult struct {
	Store      string `json:"store"`
	Generation string `json:"generation"`
	Model      string `json:"model"`
	ChunkCount int    `json:"chunk_count"`
}

// Ingest chunks the text, embeds every chunk and replaces the named store.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	started := time.Now()
	result, err := p.ingest(ctx, req)

	outcome := metrics.OutcomeSuccess
	chunks := 0
	if err != nil {
		outcome = metrics.OutcomeError
		p.logger.Warn("ingest failed", zap.String("store", req.Store), zap.String("triggered_by", req.TriggeredBy), zap.Error(err))
	} else {
		chunks = result.ChunkCount
		p.logger.Info("ingest completed",
			zap.String("store", result.Store),
			zap.String("generation", result.Generation),
			zap.String("model", result.Model),
			zap.Int("chunks", result.ChunkCount),
			zap.String("triggered_by", req.TriggeredBy),
			zap.Duration("duration", time.Since(started)),
		)
	}
	p.metrics.ObserveIngest(p.metricStore(req.Store), outcome, chunks)
	return result, err
}

func (p *Pipeline) ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if strings.TrimSpace(req.Store) == "" {
		return nil, fmt.Errorf("%w: store name is empty", ErrInvalidParameters)
	}
	all, err := Chunk(req.Text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	// Runs of blank lines longer than a chunk produce whitespace-only chunks.
	chunks := all[:0]
	for _, c := range all {
		if strings.TrimSpace(c) != "" {
			chunks = append(chunks, c)
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: document has no extractable text", ErrInvalidParameters)
	}

	vectors, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}

	entries := make([]vectorindex.Entry, len(chunks))
	for i := range chunks {
		entry, err := vectorindex.NewEntry(chunks[i], vectors[i])
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		entries[i] = entry
	}

	info := vectorindex.BuildInfo{
		Model:     p.embedder.Model(),
		CreatedBy: req.TriggeredBy,
	}
	if req.OnCommit != nil {
		info.OnCommit = func(m *vectorindex.Manifest) {
			req.OnCommit(ingestResult(m))
		}
	}
	manifest, err := p.store.Build(ctx, req.Store, info, entries)
	if err != nil {
		return nil, err
	}
	return ingestResult(manifest), nil
}

func ingestResult(m *vectorindex.Manifest) *IngestResult {
	return &IngestResult{
		Store:      m.Store,
		Generation: m.Generation,
		Model:      m.Model,
		ChunkCount: m.Count,
	}
}

// metricStore is the store label for metrics. Names that never resolved to a
// built store share one label so callers cannot grow the series set.
func (p *Pipeline) metricStore(name string) string {
	if _, err := p.store.Generation(name); err != nil {
		return metrics.UnknownStore
	}
	return name
}

// embedChunks calls the embedder in batches to stay under provider limits.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for i := 0; i < len(chunks); i += p.cfg.BatchSize {
		end := i + p.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch, err := p.embedder.EmbedBatch(ctx, chunks[i:end])
		if err != nil {
			return nil, embeddingFailure(err)
		}
		if len(batch) != end-i {
			return nil, fmt.Errorf("%w: embedder returned %d vectors for %d chunks", ErrEmbeddingUnavailable, len(batch), end-i)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

type AskRequest struct {
	Store    string
	Question string
	// TopK <= 0 uses the configured default.
	TopK int
}

type AskResult struct {
	Answer   Answer    `json:"answer"`
	Passages []Passage `json:"passages"`
}

// Ask retrieves passages from the store and synthesizes an answer from them.
func (p *Pipeline) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	started := time.Now()
	k := req.TopK
	if k <= 0 {
		k = p.cfg.TopK
	}

	result, err := p.ask(ctx, req, k)

	outcome := askOutcome(result, err)
	p.metrics.ObserveAsk(p.metricStore(req.Store), outcome)
	fields := []zap.Field{
		zap.String("store", req.Store),
		zap.Int("k", k),
		zap.String("outcome", outcome),
		zap.Duration("duration", time.Since(started)),
	}
	switch {
	case err == nil:
		p.logger.Info("ask completed", append(fields, zap.Int("passages", len(result.Passages)), zap.Bool("grounded", result.Answer.Grounded))...)
	case errors.Is(err, ErrIndexNotFound), errors.Is(err, ErrInvalidParameters):
		p.logger.Info("ask rejected", append(fields, zap.Error(err))...)
	default:
		p.logger.Warn("ask failed", append(fields, zap.Error(err))...)
	}
	return result, err
}

func (p *Pipeline) ask(ctx context.Context, req AskRequest, k int) (*AskResult, error) {
	passages, err := p.retriever.Retrieve(ctx, req.Question, req.Store, k)
	if err != nil {
		return nil, err
	}
	answer, err := p.synthesizer.Answer(ctx, req.Question, passageTexts(passages))
	if err != nil {
		return nil, err
	}
	return &AskResult{Answer: answer, Passages: passages}, nil
}

func askOutcome(result *AskResult, err error) string {
	switch {
	case err == nil && result.Answer.Grounded:
		return metrics.OutcomeGrounded
	case err == nil:
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrIndexNotFound):
		return metrics.OutcomeNoIndex
	default:
		return metrics.OutcomeError
	}
}
