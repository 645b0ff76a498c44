package bootstrap

import (
	"fmt"

	"go.uber.org/zap"

	"nexora-chat/internal/ai"
	"nexora-chat/internal/config"
	"nexora-chat/internal/metrics"
	"nexora-chat/internal/rag"
	"nexora-chat/internal/vectorindex"
)

// Core is the knowledge pipeline without any serving infrastructure. The
// operator CLI runs on it directly.
type Core struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Collectors
	Pipeline *rag.Pipeline
}

func NewCore(cfg *config.Config, logger *zap.Logger) (*Core, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := metrics.New()
	pipeline, err := newPipeline(cfg, logger, m)
	if err != nil {
		return nil, err
	}
	return &Core{Config: cfg, Logger: logger, Metrics: m, Pipeline: pipeline}, nil
}

func newPipeline(cfg *config.Config, logger *zap.Logger, m *metrics.Collectors) (*rag.Pipeline, error) {
	store, err := vectorindex.NewStore(vectorindex.Options{
		Root:            cfg.RAG.StoreRoot,
		KeepGenerations: cfg.RAG.KeepGenerations,
		Compress:        cfg.RAG.Compress,
		Logger:          logger.Named("vectorindex"),
	})
	if err != nil {
		return nil, fmt.Errorf("open vector store failed: %w", err)
	}

	embedder, err := newEmbedder(cfg, logger, m)
	if err != nil {
		return nil, err
	}
	completer := ai.NewRetryCompleter(
		ai.NewOpenAIClient(ai.ClientConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			ChatModel:   cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
		}),
		ai.RetryPolicy{
			Timeout:    cfg.LLM.Timeout(),
			MaxRetries: cfg.LLM.MaxRetries,
			Limiter:    ai.NewLimiter(cfg.LLM.RateLimit, 1),
		},
		logger.Named("llm"),
		m,
	)

	pipeline, err := rag.NewPipeline(rag.PipelineConfig{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
		TopK:         cfg.RAG.TopK,
		BatchSize:    cfg.Embedding.BatchSize,
	}, embedder, store, completer, logger.Named("rag"), m)
	if err != nil {
		return nil, fmt.Errorf("build pipeline failed: %w", err)
	}
	return pipeline, nil
}

func newEmbedder(cfg *config.Config, logger *zap.Logger, m *metrics.Collectors) (rag.Embedder, error) {
	switch cfg.Embedding.Provider {
	case config.EmbeddingProviderHash:
		return ai.NewHashEmbedder(cfg.Embedding.Dimension), nil
	case config.EmbeddingProviderOpenAI:
		client := ai.NewOpenAIClient(ai.ClientConfig{
			BaseURL:            cfg.Embedding.BaseURL,
			APIKey:             cfg.Embedding.APIKey,
			EmbeddingModel:     cfg.Embedding.Model,
			EmbeddingBatchSize: cfg.Embedding.BatchSize,
		})
		return ai.NewRetryEmbedder(client, ai.RetryPolicy{
			Timeout:    cfg.Embedding.Timeout(),
			MaxRetries: cfg.Embedding.MaxRetries,
			Limiter:    ai.NewLimiter(cfg.Embedding.RateLimit, 1),
		}, logger.Named("embedding"), m), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}
