package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"nexora-chat/internal/metrics"
	"nexora-chat/internal/rag"
)

const (
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxBackoff  = 8 * time.Second
)

// RetryPolicy bounds one logical external call.
type RetryPolicy struct {
	// Timeout applies to each attempt. Zero disables the per-attempt deadline.
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Limiter is shared by every caller of the wrapped client. Nil means unlimited.
	Limiter *rate.Limiter
}

// NewLimiter returns a limiter for perSecond requests, or nil when perSecond <= 0.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseBackoff
	if base <= 0 {
		base = defaultBaseBackoff
	}
	ceiling := p.MaxBackoff
	if ceiling <= 0 {
		ceiling = defaultMaxBackoff
	}
	d := base * time.Duration(1<<(attempt-1))
	if d > ceiling || d <= 0 {
		d = ceiling
	}
	return d
}

// RetryEmbedder wraps an embedder with timeouts, retries and rate limiting.
// Exhausted attempts surface as rag.ErrEmbeddingUnavailable.
type RetryEmbedder struct {
	inner   rag.Embedder
	policy  RetryPolicy
	logger  *zap.Logger
	metrics *metrics.Collectors
}

func NewRetryEmbedder(inner rag.Embedder, policy RetryPolicy, logger *zap.Logger, m *metrics.Collectors) *RetryEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryEmbedder{inner: inner, policy: policy, logger: logger, metrics: m}
}

func (e *RetryEmbedder) Model() string {
	return e.inner.Model()
}

func (e *RetryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := call(ctx, e.policy, metrics.KindEmbed, e.logger, e.metrics, func(ctx context.Context) ([]float32, error) {
		return e.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, unavailable(rag.ErrEmbeddingUnavailable, err)
	}
	return v, nil
}

func (e *RetryEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := call(ctx, e.policy, metrics.KindEmbed, e.logger, e.metrics, func(ctx context.Context) ([][]float32, error) {
		return e.inner.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, unavailable(rag.ErrEmbeddingUnavailable, err)
	}
	return v, nil
}

// RetryCompleter wraps a completer the same way. Exhausted attempts surface as rag.ErrSynthesis.
type RetryCompleter struct {
	inner   rag.Completer
	policy  RetryPolicy
	logger  *zap.Logger
	metrics *metrics.Collectors
}

func NewRetryCompleter(inner rag.Completer, policy RetryPolicy, logger *zap.Logger, m *metrics.Collectors) *RetryCompleter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryCompleter{inner: inner, policy: policy, logger: logger, metrics: m}
}

func (c *RetryCompleter) Complete(ctx context.Context, messages []rag.Message) (string, error) {
	out, err := call(ctx, c.policy, metrics.KindComplete, c.logger, c.metrics, func(ctx context.Context) (string, error) {
		return c.inner.Complete(ctx, messages)
	})
	if err != nil {
		return "", unavailable(rag.ErrSynthesis, err)
	}
	return out, nil
}

func unavailable(kind, err error) error {
	if errors.Is(err, rag.ErrInvalidParameters) || errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

func call[T any](
	ctx context.Context,
	policy RetryPolicy,
	kind string,
	logger *zap.Logger,
	m *metrics.Collectors,
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := policy.backoff(attempt)
			logger.Warn("retrying external call",
				zap.String("kind", kind),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return zero, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			}
		}

		if policy.Limiter != nil {
			if err := policy.Limiter.Wait(ctx); err != nil {
				return zero, fmt.Errorf("rate limiter: %w", err)
			}
		}

		out, err := callOnce(ctx, policy.Timeout, kind, m, fn)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func callOnce[T any](ctx context.Context, timeout time.Duration, kind string, m *metrics.Collectors, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	started := time.Now()
	out, err := fn(ctx)
	m.ObserveExternalCall(kind, time.Since(started), err == nil)
	return out, err
}

// isRetryable reports whether err is worth another attempt: rate limiting,
// server errors, timeouts and transport failures.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, rag.ErrInvalidParameters) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 0 || retryableStatus(reqErr.HTTPStatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
