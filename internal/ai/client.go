// Package ai defines the embedding and generation service contracts the
// engine depends on, and two locally-hosted implementations. Any attempt
// to configure a non-local provider fails in internal/config before a
// Client is ever constructed.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// EmbeddingInfo describes the embedding provider in use.
type EmbeddingInfo struct {
	Provider   string
	Model      string
	Dimensions int
}

// GenerationInfo describes the generation provider in use.
type GenerationInfo struct {
	Provider string
	Model    string
}

// GenerateOptions controls a single generation call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// Embedder is the embedding service contract.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Health(ctx context.Context) bool
	EmbeddingInfo() EmbeddingInfo
}

// Generator is the LLM service contract.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	Health(ctx context.Context) bool
	GenerationInfo() GenerationInfo
}

// Client composes both suspension points the query pipeline drives.
type Client interface {
	Embedder
	Generator
}

// Config holds the locally-validated settings needed to construct a Client.
type Config struct {
	Provider      string
	BaseURL       string
	EmbedModel    string
	GenerateModel string
	Dim           int
	Timeout       time.Duration
}

// ErrNonLocalProvider is returned when a provider outside the local set is
// requested; config.Load already rejects these, this is a second backstop
// for callers that construct a Config directly.
var ErrNonLocalProvider = errors.New("provider is not locally hosted")

// NewClient builds a Client for the configured provider, wrapping every
// suspension point in a circuit breaker so that after five consecutive
// failures further calls fail fast with gobreaker's open-state error
// instead of serially timing out. Breaker and provider errors are returned
// as they are, without an errs Kind.
func NewClient(cfg Config) (Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 6 * time.Second
	}
	var inner Client
	switch cfg.Provider {
	case "ollama":
		inner = newOllamaClient(cfg)
	case "llamacpp":
		inner = newLlamaCppClient(cfg)
	case "stub":
		inner = NewStubClient(cfg.Dim)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNonLocalProvider, cfg.Provider)
	}
	return newBreakerClient(inner), nil
}

// breakerClient wraps a Client so embedding and generation calls trip a
// circuit breaker independently; grounded in the per-dependency resilience
// pattern used across the example pack's service layers.
type breakerClient struct {
	inner     Client
	embedCB   *gobreaker.CircuitBreaker
	generateCB *gobreaker.CircuitBreaker
}

func newBreakerClient(inner Client) *breakerClient {
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    0,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}
	}
	return &breakerClient{
		inner:      inner,
		embedCB:    gobreaker.NewCircuitBreaker(settings("embedding")),
		generateCB: gobreaker.NewCircuitBreaker(settings("generation")),
	}
}

func (b *breakerClient) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := b.embedCB.Execute(func() (any, error) {
		return b.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (b *breakerClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := b.embedCB.Execute(func() (any, error) {
		return b.inner.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return v.([][]float32), nil
}

func (b *breakerClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	v, err := b.generateCB.Execute(func() (any, error) {
		return b.inner.Generate(ctx, prompt, opts)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (b *breakerClient) Health(ctx context.Context) bool        { return b.inner.Health(ctx) }
func (b *breakerClient) EmbeddingInfo() EmbeddingInfo           { return b.inner.EmbeddingInfo() }
func (b *breakerClient) GenerationInfo() GenerationInfo         { return b.inner.GenerationInfo() }
