package ai

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"nexora-chat/internal/rag"
)

const defaultEmbeddingBatchSize = 10

// ClientConfig points the client at any OpenAI-compatible endpoint.
type ClientConfig struct {
	BaseURL string
	APIKey  string

	EmbeddingModel string
	// EmbeddingBatchSize caps inputs per embeddings request. DashScope and
	// similar providers reject large batches.
	EmbeddingBatchSize int

	ChatModel   string
	Temperature float32

	HTTPClient *http.Client
}

// OpenAIClient implements rag.Embedder and rag.Completer over the OpenAI API shape.
type OpenAIClient struct {
	client *openai.Client
	cfg    ClientConfig
}

func NewOpenAIClient(cfg ClientConfig) *OpenAIClient {
	conf := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		conf.BaseURL = strings.TrimRight(base, "/")
	}
	if cfg.HTTPClient != nil {
		conf.HTTPClient = cfg.HTTPClient
	} else {
		conf.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	}
	if cfg.EmbeddingBatchSize <= 0 {
		cfg.EmbeddingBatchSize = defaultEmbeddingBatchSize
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(conf),
		cfg:    cfg,
	}
}

// Model is the embedding model identity recorded with every index.
func (c *OpenAIClient) Model() string {
	return c.cfg.EmbeddingModel
}

// Embed returns the embedding vector for the given text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input, in input order. Inputs beyond the
// configured batch size are sent as several requests.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts to embed", rag.ErrInvalidParameters)
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: embedding input %d is empty", rag.ErrInvalidParameters, i)
		}
	}

	result := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += c.cfg.EmbeddingBatchSize {
		end := i + c.cfg.EmbeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedOnce(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		result = append(result, batch...)
	}
	return result, nil
}

func (c *OpenAIClient) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		if d.Index != i {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding in response for input %d", i)
		}
		v := make([]float32, len(d.Embedding))
		for j := range d.Embedding {
			v[j] = float32(d.Embedding[j])
		}
		vectors[i] = v
	}
	return vectors, nil
}

// Complete runs one non-streaming chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, messages []rag.Message) (string, error) {
	reqMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		reqMessages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.ChatModel,
		Messages:    reqMessages,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty llm choices")
	}
	return resp.Choices[0].Message.Content, nil
}
