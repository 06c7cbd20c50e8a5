// Package summarizer turns chunks and optimization batches into bounded summaries
// through an llm.Client, with pacing and retries.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dtnitsch/llm-doc-summarizer/models"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/llm"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/tokenizer"
)

// ErrRetriesExhausted is returned when every attempt failed with a retryable error.
var ErrRetriesExhausted = errors.New("summarization retries exhausted")

// Summarizer is safe for concurrent use.
type Summarizer struct {
	client    llm.Client
	tok       tokenizer.Tokenizer
	logger    *slog.Logger
	limiter   *rate.Limiter
	languages LanguageClassifier

	outputCeiling int
	temperature   float32
	maxAttempts   int
	backoff       time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Summarizer. Language flagging is disabled when cfg lists no
// supported languages.
func New(logger *slog.Logger, client llm.Client, tok tokenizer.Tokenizer, cfg models.Config) *Summarizer {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	s := &Summarizer{
		client:        client,
		tok:           tok,
		logger:        logger,
		limiter:       rate.NewLimiter(limit, 1),
		outputCeiling: cfg.OutputTokenCeiling,
		temperature:   cfg.Temperature,
		maxAttempts:   max(cfg.MaxAttempts, 1),
		backoff:       cfg.Backoff,
		sleep:         sleepContext,
	}
	if len(cfg.SupportedLanguages) > 0 {
		s.languages = NewLanguageDetector(cfg.SupportedLanguages, cfg.MinLanguageConfidence)
	}
	return s
}

// WithLanguageClassifier replaces the language classifier; nil disables flagging.
func (s *Summarizer) WithLanguageClassifier(c LanguageClassifier) *Summarizer {
	s.languages = c
	return s
}

// Summarize produces the summary of one chunk.
func (s *Summarizer) Summarize(ctx context.Context, chunk models.Chunk, credential string) (models.Summary, error) {
	var language string
	var lowPriority bool
	if s.languages != nil {
		language, lowPriority = s.languages.Classify(chunk.Text)
		if lowPriority {
			s.logger.Info("chunk flagged low priority", "chunk", chunk.Index, "language", language)
		}
	}

	text, err := s.complete(ctx, llm.Request{
		System:          chunkSystemPrompt,
		Prompt:          chunkInstruction + chunk.Text,
		MaxOutputTokens: s.outputCeiling,
		Temperature:     s.temperature,
		Credential:      credential,
	})
	if err != nil {
		return models.Summary{}, fmt.Errorf("failed to summarize chunk %d: %w", chunk.Index, err)
	}

	text = s.bound(text, s.outputCeiling)
	return models.Summary{
		SourceChunkIndex: chunk.Index,
		Sources:          []int{chunk.Index},
		Text:             text,
		TokenCount:       s.tok.Count(text),
		Language:         language,
		LowPriority:      lowPriority,
	}, nil
}

// Condense re-summarizes an optimization batch into one summary of at most
// batch.TargetTokens tokens. The result is attributed to the batch's smallest source.
func (s *Summarizer) Condense(ctx context.Context, batch models.OptimizationBatch, credential string) (models.Summary, error) {
	sources := batch.Sources()
	if len(sources) == 0 {
		return models.Summary{}, fmt.Errorf("batch %d of pass %d has no members", batch.Index, batch.Pass)
	}

	target := batch.TargetTokens
	if target <= 0 || target > s.outputCeiling {
		target = s.outputCeiling
	}

	text, err := s.complete(ctx, llm.Request{
		System:          systemPromptFor(batch.Pass),
		Prompt:          condenseInstruction(target) + RenderBatch(batch),
		MaxOutputTokens: target,
		Temperature:     s.temperature,
		Credential:      credential,
	})
	if err != nil {
		return models.Summary{}, fmt.Errorf("failed to condense batch %d of pass %d: %w", batch.Index, batch.Pass, err)
	}

	lowPriority := false
	for _, m := range batch.Members {
		lowPriority = lowPriority || m.LowPriority
	}

	text = s.bound(text, target)
	return models.Summary{
		SourceChunkIndex: sources[0],
		Sources:          sources,
		Text:             text,
		TokenCount:       s.tok.Count(text),
		LowPriority:      lowPriority,
	}, nil
}

// complete runs one request with pacing and the retry policy.
func (s *Summarizer) complete(ctx context.Context, req llm.Request) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", err
		}

		out, err := s.client.Complete(ctx, req)
		if err == nil && strings.TrimSpace(out) == "" {
			err = fmt.Errorf("%w: empty completion", llm.ErrTransport)
		}
		if err == nil {
			return out, nil
		}
		if !llm.IsRetryable(err) {
			return "", err
		}

		lastErr = err
		s.logger.Warn("completion failed, retrying", "attempt", attempt, "max_attempts", s.maxAttempts, "error", err)
		if attempt < s.maxAttempts {
			if err := s.sleep(ctx, s.backoffFor(attempt)); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, s.maxAttempts, lastErr)
}

func (s *Summarizer) backoffFor(attempt int) time.Duration {
	return s.backoff * time.Duration(1<<(attempt-1))
}

// bound truncates provider output that overshoots the requested size.
func (s *Summarizer) bound(text string, limit int) string {
	if s.tok.Count(text) <= limit {
		return text
	}
	s.logger.Warn("completion exceeded output ceiling, truncating", "limit", limit)
	return s.tok.Truncate(text, limit)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
