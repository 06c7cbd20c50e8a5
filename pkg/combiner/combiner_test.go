package combiner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dtnitsch/llm-doc-summarizer/internal/testutil"
	"github.com/dtnitsch/llm-doc-summarizer/models"
)

func TestCombine_OrdersBySourceIndex(t *testing.T) {
	summaries := []models.Summary{
		{SourceChunkIndex: 2, Text: "third part"},
		{SourceChunkIndex: 0, Text: "first part"},
		{SourceChunkIndex: 1, Text: "second part"},
	}

	got := Combine(summaries, testutil.WordTokenizer{})

	assert.Equal(t, []int{0, 1, 2}, got.Parts)
	assert.Equal(t, []string{"first part", "second part", "third part"}, Split(got.Text))
	// 6 words plus one "---" per delimiter.
	assert.Equal(t, 8, got.TokenCount)
	assert.Equal(t, 2, summaries[0].SourceChunkIndex, "input must not be reordered")
}

func TestCombine_Empty(t *testing.T) {
	got := Combine(nil, testutil.WordTokenizer{})
	assert.Equal(t, "", got.Text)
	assert.Equal(t, 0, got.TokenCount)
	assert.Empty(t, got.Parts)
	assert.Nil(t, Split(got.Text))
}

func TestCombine_Single(t *testing.T) {
	got := Combine([]models.Summary{{SourceChunkIndex: 4, Text: "only one"}}, testutil.WordTokenizer{})
	assert.Equal(t, "only one", got.Text)
	assert.Equal(t, []int{4}, got.Parts)
	assert.Equal(t, 2, got.TokenCount)
}
