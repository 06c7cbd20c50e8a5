package summarizer

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dtnitsch/llm-doc-summarizer/models"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/combiner"
)

const chunkSystemPrompt = "You are a technical documentation expert. Summarize the text you are given " +
	"into clear, concise documentation. Keep key concepts, functionality and important details. " +
	"Drop verbosity but stay technically accurate. Prefer usage and configuration over explanation."

const condenseSystemPrompt = "You are a technical documentation expert condensing existing summaries. " +
	"Keep only:\n" +
	"1. Key functionality and usage\n" +
	"2. Critical parameters and configuration\n" +
	"3. Essential technical details\n" +
	"Remove redundant information, verbose descriptions and non-essential examples."

const extremeSystemPrompt = "You are a technical documentation expert performing extreme compression. " +
	"Keep only core usage patterns, critical API endpoints with their parameters, and essential " +
	"configuration options. Remove background, implementation details and any example that is not " +
	"the only way to show usage. Every word has to earn its place."

const chunkInstruction = "Create a concise summary focused on usage, parameters and configuration. " +
	"Keep critical technical information and nothing else.\n\n"

// systemPromptFor picks the prompt for an optimization pass; later passes compress harder.
func systemPromptFor(pass int) string {
	if pass >= 2 {
		return extremeSystemPrompt
	}
	return condenseSystemPrompt
}

func condenseInstruction(target int) string {
	return fmt.Sprintf("Merge the following summaries into a single summary of at most %d tokens. "+
		"Keep the order of the parts.\n\n", target)
}

// RenderBatch lays out batch members in source order, each under a part header.
func RenderBatch(batch models.OptimizationBatch) string {
	members := slices.Clone(batch.Members)
	slices.SortStableFunc(members, func(a, b models.Summary) int {
		return a.SourceChunkIndex - b.SourceChunkIndex
	})

	parts := make([]string, len(members))
	for i, m := range members {
		parts[i] = fmt.Sprintf("# Part %d\n%s", m.SourceChunkIndex+1, m.Text)
	}
	return strings.Join(parts, combiner.Delimiter)
}
