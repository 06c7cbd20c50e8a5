// Package llm provides the completion capability used to summarize text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dtnitsch/llm-doc-summarizer/models"
)

var (
	// ErrRateLimited means the provider throttled the request. Retryable.
	ErrRateLimited = errors.New("rate limited by provider")
	// ErrTransport covers network failures, timeouts and provider 5xx. Retryable.
	ErrTransport = errors.New("transport error")
	// ErrInvalidCredential means the API key was missing or rejected. Fatal for the job.
	ErrInvalidCredential = errors.New("invalid API credential")
	// ErrRejected means the provider refused the request for another reason. Fatal.
	ErrRejected = errors.New("request rejected by provider")
)

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransport)
}

// Request is a single bounded completion.
type Request struct {
	System          string
	Prompt          string
	MaxOutputTokens int
	Temperature     float32
	Credential      string
}

// Client is the interface for interacting with LLMs.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// NewClient builds the client for the configured provider.
func NewClient(cfg models.Config) (Client, error) {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	if cfg.RequestTimeout <= 0 {
		httpClient.Timeout = 2 * time.Minute
	}

	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIClient(cfg.Model, cfg.BaseURL, httpClient), nil
	case "ollama":
		return NewOllamaClient(cfg.Model, cfg.BaseURL, httpClient)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// classifyStatus maps an HTTP status from the provider onto the error taxonomy.
func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case status == http.StatusRequestTimeout || status >= 500 || status == 0:
		return fmt.Errorf("%w: %w", ErrTransport, err)
	default:
		return fmt.Errorf("%w (status %d): %w", ErrRejected, status, err)
	}
}

// classifyContextError keeps caller cancellation distinct from provider timeouts.
func classifyContextError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
