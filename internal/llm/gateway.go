package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/capitalize-ai/lifeos-orchestrator/pkg/logger"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/metrics"
)

// GatewayConfig tunes a Gateway.
type GatewayConfig struct {
	Model string
	// Timeout bounds each attempt, not the whole call.
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
	// RateLimit is the sustained request rate per second; zero disables pacing.
	RateLimit float64
	RateBurst int

	Temperature float64
	MaxTokens   int
}

// DefaultGatewayConfig returns the production defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Timeout:     10 * time.Second,
		MaxRetries:  2,
		RetryBase:   500 * time.Millisecond,
		RateLimit:   5,
		RateBurst:   10,
		Temperature: 0.7,
		MaxTokens:   1024,
	}
}

// Gateway wraps a Client with per-attempt timeouts, bounded retries of
// transient failures, client-side pacing, metrics and logging. It
// implements Generator.
type Gateway struct {
	client  Client
	cfg     GatewayConfig
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewGateway creates a gateway. A nil client is allowed: every call then
// fails with KindUnavailable.
func NewGateway(client Client, cfg GatewayConfig, log *logger.Logger) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}

	if log == nil {
		log = logger.Global()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Gateway{
		client:  client,
		cfg:     cfg,
		limiter: limiter,
		log:     log.Named("llm"),
	}
}

// Available reports whether a backend is configured.
func (g *Gateway) Available() bool {
	return g != nil && g.client != nil
}

// Provider returns the backend name, or "none".
func (g *Gateway) Provider() string {
	if !g.Available() {
		return string(ProviderNone)
	}
	return g.client.Name()
}

// Generate sends messages to the backend and returns the completion text.
// All failures are *Error.
func (g *Gateway) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	if !g.Available() {
		return "", &Error{Kind: KindUnavailable, Err: ErrNoBackend}
	}
	for _, m := range messages {
		if !m.Role.Valid() {
			return "", &Error{Kind: KindBadRequest, Err: fmt.Errorf("invalid message role %q", m.Role)}
		}
	}

	req := &CompletionRequest{
		Model:       g.cfg.Model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = g.cfg.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = g.cfg.Temperature
	}

	purpose := opts.Purpose
	if purpose == "" {
		purpose = "generate"
	}
	provider := g.client.Name()

	var content string
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(&Error{Kind: KindTimeout, Err: err})
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(&Error{Kind: KindRateLimited, Err: err})
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		start := time.Now()
		resp, err := g.client.Complete(attemptCtx, req)
		if err == nil && resp.Content == "" {
			err = &Error{Kind: KindServerError, Err: errors.New("empty completion")}
		}
		if err != nil {
			// A deadline on the attempt context is our timeout even when the
			// SDK reports it as a transport error.
			if attemptCtx.Err() != nil && ctx.Err() == nil {
				err = &Error{Kind: KindTimeout, Err: err}
			}
			classified := classify(err)
			metrics.RecordLLM(provider, purpose, string(classified.Kind), time.Since(start).Seconds(), 0, 0)
			if !classified.Kind.Transient() {
				return backoff.Permanent(classified)
			}
			return classified
		}

		metrics.RecordLLM(provider, purpose, "ok", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
		content = resp.Content
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.RetryBase
	b.MaxInterval = 8 * g.cfg.RetryBase
	b.MaxElapsedTime = 0
	b.Reset()

	notify := func(err error, wait time.Duration) {
		kind := KindOf(err)
		metrics.LLMRetriesTotal.WithLabelValues(provider, string(kind)).Inc()
		g.log.Warn("retrying generation",
			zap.String("purpose", purpose),
			zap.String("kind", string(kind)),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.cfg.MaxRetries)), ctx), notify)
	if err != nil {
		classified := classify(err)
		g.log.Warn("generation failed",
			zap.String("purpose", purpose),
			zap.String("kind", string(classified.Kind)),
			zap.Error(classified.Err),
		)
		return "", classified
	}
	return content, nil
}
