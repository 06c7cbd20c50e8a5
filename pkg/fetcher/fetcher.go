package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/dtnitsch/llm-doc-summarizer/models"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/caching"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/parser"
)

const (
	userAgent    = "lds/1.0 (+https://github.com/dtnitsch/llm-doc-summarizer)"
	maxBodyBytes = 10 << 20
)

// FetchError reports a network failure or an unexpected HTTP status.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status code %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// InvalidContentError reports a page that is not text or has nothing to extract.
type InvalidContentError struct {
	URL         string
	ContentType string
	Reason      string
}

func (e *InvalidContentError) Error() string {
	if e.ContentType != "" {
		return fmt.Sprintf("fetch %s: %s (content type %q)", e.URL, e.Reason, e.ContentType)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
}

type Fetcher struct {
	client   *http.Client
	logger   *slog.Logger
	cache    *caching.Cache
	parser   *parser.Parser
	attempts int
	backoff  time.Duration
}

// NewFetcher builds a Fetcher from the fetch settings in cfg. cache may be nil.
func NewFetcher(logger *slog.Logger, cfg models.Config, cache *caching.Cache) *Fetcher {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.FetchAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
		cache:    cache,
		parser:   &parser.Parser{},
		attempts: attempts,
		backoff:  time.Second,
	}
}

// Fetch downloads url and extracts its readable text.
func (f *Fetcher) Fetch(ctx context.Context, url string) (models.Document, error) {
	entry, err := f.load(ctx, url)
	if err != nil {
		return models.Document{}, err
	}

	page, err := f.parser.ParseToStructured(models.ParseRequest{
		URL:         url,
		HTML:        string(entry.Body),
		ContentType: entry.ContentType,
	})
	if err != nil {
		return models.Document{}, &InvalidContentError{URL: url, ContentType: entry.ContentType, Reason: err.Error()}
	}

	text := parser.CleanText(page.ToPlainText())
	if text == "" {
		return models.Document{}, &InvalidContentError{URL: url, Reason: "no extractable text"}
	}

	return models.Document{
		URL:       url,
		Title:     page.Title,
		Text:      text,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// load returns the raw page, from the cache when fresh.
func (f *Fetcher) load(ctx context.Context, url string) (caching.Entry, error) {
	if f.cache != nil {
		if entry, ok := f.cache.Get(url); ok {
			f.logger.Debug("cache hit", "url", url)
			return entry, nil
		}
	}

	entry, err := f.download(ctx, url)
	if err != nil {
		return caching.Entry{}, err
	}

	if f.cache != nil {
		if err := f.cache.Set(url, entry); err != nil {
			f.logger.Warn("failed to cache page", "url", url, "error", err)
		}
	}
	return entry, nil
}

func (f *Fetcher) download(ctx context.Context, url string) (caching.Entry, error) {
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if attempt > 1 {
			f.logger.Info("retrying fetch", "url", url, "attempt", attempt, "error", lastErr)
			if err := sleepContext(ctx, f.backoff*time.Duration(attempt-1)); err != nil {
				return caching.Entry{}, err
			}
		}

		entry, retry, err := f.get(ctx, url)
		if err == nil {
			return entry, nil
		}
		if ctx.Err() != nil {
			return caching.Entry{}, ctx.Err()
		}
		if !retry {
			return caching.Entry{}, err
		}
		lastErr = err
	}
	return caching.Entry{}, lastErr
}

// get performs one request. retry reports whether the failure is transient.
func (f *Fetcher) get(ctx context.Context, url string) (entry caching.Entry, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return entry, false, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return entry, true, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return entry, transient, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return entry, true, &FetchError{URL: url, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	if !isText(contentType) {
		return entry, false, &InvalidContentError{URL: url, ContentType: contentType, Reason: "not a text document"}
	}

	return caching.Entry{ContentType: contentType, Body: body}, false, nil
}

func isText(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml", "text/plain":
		return true
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// IsFetchError reports whether err is a fetch or content failure.
func IsFetchError(err error) bool {
	var fe *FetchError
	var ce *InvalidContentError
	return errors.As(err, &fe) || errors.As(err, &ce)
}
