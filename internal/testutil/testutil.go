// Package testutil holds deterministic fakes shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/dtnitsch/llm-doc-summarizer/models"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/llm"
)

// WordTokenizer counts whitespace-separated words as tokens.
type WordTokenizer struct{}

func (WordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

// Truncate returns the exact prefix of text ending after the n-th word.
func (WordTokenizer) Truncate(text string, n int) string {
	if n <= 0 {
		return ""
	}
	words := 0
	inWord := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			if inWord {
				words++
				if words == n {
					return text[:i]
				}
			}
			inWord = false
			continue
		}
		inWord = true
	}
	return text
}

// Words builds a text of n distinct words.
func Words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(parts, " ")
}

// Call records one completion request seen by ScriptedClient.
type Call struct {
	Request llm.Request
}

// ScriptedClient is an llm.Client whose behaviour is set by a function.
// By default it replies with the first `MaxOutputTokens/2` words of the prompt.
type ScriptedClient struct {
	Respond func(ctx context.Context, req llm.Request, attempt int) (string, error)

	mu    sync.Mutex
	calls []Call
}

func (c *ScriptedClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, Call{Request: req})
	attempt := len(c.calls)
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.Respond != nil {
		return c.Respond(ctx, req, attempt)
	}
	return HalfReply(req), nil
}

// Calls returns a copy of the recorded requests.
func (c *ScriptedClient) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// HalfReply echoes the leading words of the prompt, bounded by MaxOutputTokens/2.
func HalfReply(req llm.Request) string {
	words := strings.Fields(req.Prompt)
	n := req.MaxOutputTokens / 2
	if n < 1 {
		n = 1
	}
	if n > len(words) {
		n = len(words)
	}
	return strings.Join(words[:n], " ")
}

// StaticFetcher returns a fixed document or error.
type StaticFetcher struct {
	Doc models.Document
	Err error
}

func (f StaticFetcher) Fetch(ctx context.Context, url string) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return models.Document{}, err
	}
	if f.Err != nil {
		return models.Document{}, f.Err
	}
	doc := f.Doc
	if doc.URL == "" {
		doc.URL = url
	}
	return doc, nil
}
