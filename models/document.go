package models

import (
	"slices"
	"time"
)

// Document is the extracted text of a fetched page. It is never mutated after creation.
type Document struct {
	URL       string    `json:"url" yaml:"url"`
	Title     string    `json:"title,omitempty" yaml:"title,omitempty"`
	Text      string    `json:"text" yaml:"text"`
	FetchedAt time.Time `json:"fetched_at" yaml:"fetched_at"`
}

// Chunk is a token-bounded contiguous slice of a document.
type Chunk struct {
	Index      int    `json:"index" yaml:"index"`
	Text       string `json:"text" yaml:"text"`
	TokenCount int    `json:"token_count" yaml:"token_count"`
}

// Summary is the condensation of one chunk, or of one optimization batch.
type Summary struct {
	SourceChunkIndex int    `json:"source_chunk_index" yaml:"source_chunk_index"`
	Sources          []int  `json:"sources,omitempty" yaml:"sources,omitempty"`
	Text             string `json:"text" yaml:"text"`
	TokenCount       int    `json:"token_count" yaml:"token_count"`

	// Language flags; they never cause a chunk to be skipped.
	Language    string `json:"language,omitempty" yaml:"language,omitempty"`
	LowPriority bool   `json:"low_priority,omitempty" yaml:"low_priority,omitempty"`
}

// CombinedSummary is the ordered concatenation of a set of summaries.
type CombinedSummary struct {
	Text       string `json:"text" yaml:"text"`
	TokenCount int    `json:"token_count" yaml:"token_count"`
	Parts      []int  `json:"parts" yaml:"parts"` // source chunk indexes, in output order
}

// OptimizationBatch groups summaries for one re-summarization call.
type OptimizationBatch struct {
	Pass         int       `json:"pass" yaml:"pass"`
	Index        int       `json:"index" yaml:"index"`
	Members      []Summary `json:"members" yaml:"members"`
	InputTokens  int       `json:"input_tokens" yaml:"input_tokens"`
	TargetTokens int       `json:"target_tokens" yaml:"target_tokens"`
}

// Sources returns the sorted, de-duplicated chunk indexes covered by the batch.
func (b OptimizationBatch) Sources() []int {
	seen := make(map[int]struct{})
	var out []int
	for _, m := range b.Members {
		srcs := m.Sources
		if len(srcs) == 0 {
			srcs = []int{m.SourceChunkIndex}
		}
		for _, s := range srcs {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}
