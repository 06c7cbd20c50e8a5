// Package combiner joins ordered summaries into a single document.
package combiner

import (
	"slices"
	"strings"

	"github.com/dtnitsch/llm-doc-summarizer/models"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/tokenizer"
)

// Delimiter separates summaries in combined text.
const Delimiter = "\n\n---\n\n"

// Combine concatenates summaries in source chunk order and counts the result.
// The input slice is not modified.
func Combine(summaries []models.Summary, tok tokenizer.Tokenizer) models.CombinedSummary {
	ordered := slices.Clone(summaries)
	slices.SortStableFunc(ordered, func(a, b models.Summary) int {
		return a.SourceChunkIndex - b.SourceChunkIndex
	})

	texts := make([]string, len(ordered))
	parts := make([]int, len(ordered))
	for i, s := range ordered {
		texts[i] = s.Text
		parts[i] = s.SourceChunkIndex
	}

	text := strings.Join(texts, Delimiter)
	return models.CombinedSummary{
		Text:       text,
		TokenCount: tok.Count(text),
		Parts:      parts,
	}
}

// Split is the inverse of Combine's join.
func Split(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, Delimiter)
}
