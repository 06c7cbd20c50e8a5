// Package optimizer shrinks a set of summaries below a token limit by
// re-summarizing them in batches, one pass at a time.
package optimizer

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/dtnitsch/llm-doc-summarizer/models"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/combiner"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/mapreduce"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/tokenizer"
)

// Condenser turns a batch into one summary of at most batch.TargetTokens tokens.
type Condenser interface {
	Condense(ctx context.Context, batch models.OptimizationBatch) (models.Summary, error)
}

// CondenserFunc adapts a function to Condenser.
type CondenserFunc func(ctx context.Context, batch models.OptimizationBatch) (models.Summary, error)

func (f CondenserFunc) Condense(ctx context.Context, batch models.OptimizationBatch) (models.Summary, error) {
	return f(ctx, batch)
}

// Options controls batching and termination.
type Options struct {
	Limit           int
	BatchCeiling    int
	OutputCeiling   int
	ShrinkRatio     float64
	MinTargetTokens int
	MaxPasses       int
	MaxConcurrent   int

	// Cancelled is checked before each batch starts. It must be safe to call
	// from any goroutine.
	Cancelled func() bool
	// OnBatch is called on the caller's goroutine after each finished batch.
	OnBatch func(pass, done, total int, s models.Summary)
}

// Result of an optimization run. After a cancelled or failed pass, Summaries
// holds the last complete pass with every batch finished before the stop
// folded in.
type Result struct {
	Summaries []models.Summary
	Combined  models.CombinedSummary
	Passes    int
	LimitMet  bool
	Cancelled bool
	// Condensed counts the batches that finished across all passes.
	Condensed int
	// PassLimitReached is set when MaxPasses ran out while passes were still
	// shrinking the text.
	PassLimitReached bool
}

// Optimize runs passes until the combined text fits opts.Limit, a pass brings
// no reduction, or opts.MaxPasses is reached. The input is never modified.
func Optimize(ctx context.Context, summaries []models.Summary, tok tokenizer.Tokenizer, c Condenser, opts Options) (Result, error) {
	if opts.BatchCeiling < 1 {
		return Result{}, fmt.Errorf("batch ceiling must be positive, got %d", opts.BatchCeiling)
	}

	current := slices.Clone(summaries)
	res := Result{Summaries: current, Combined: combiner.Combine(current, tok)}
	if res.Combined.TokenCount <= opts.Limit {
		res.LimitMet = true
		return res, nil
	}

	maxPasses := max(opts.MaxPasses, 1)
	for pass := 1; pass <= maxPasses; pass++ {
		batches := Plan(res.Summaries, pass, tok, opts)

		done, err := runPass(ctx, pass, batches, c, opts)
		res.Condensed += len(done)
		if err != nil && ctx.Err() == nil {
			res.fold(batches, done, tok, opts.Limit)
			return res, fmt.Errorf("optimization pass %d failed: %w", pass, err)
		}
		if err != nil || len(done) < len(batches) {
			res.fold(batches, done, tok, opts.Limit)
			res.Cancelled = true
			return res, nil
		}

		res.Passes = pass
		out := merge(res.Summaries, batches, done)
		next := combiner.Combine(out, tok)
		if next.TokenCount >= res.Combined.TokenCount {
			break
		}

		res.Summaries = out
		res.Combined = next
		if next.TokenCount <= opts.Limit {
			res.LimitMet = true
			break
		}
		res.PassLimitReached = pass == maxPasses
	}

	return res, nil
}

// Plan groups summaries largest first into batches whose member token counts
// sum to at most opts.BatchCeiling, and assigns each batch a target size.
func Plan(summaries []models.Summary, pass int, tok tokenizer.Tokenizer, opts Options) []models.OptimizationBatch {
	sorted := slices.Clone(summaries)
	slices.SortStableFunc(sorted, func(a, b models.Summary) int {
		if a.TokenCount != b.TokenCount {
			return b.TokenCount - a.TokenCount
		}
		return a.SourceChunkIndex - b.SourceChunkIndex
	})

	total := 0
	for _, s := range sorted {
		total += s.TokenCount
	}

	var batches []models.OptimizationBatch
	var members []models.Summary
	inputTokens := 0
	closeBatch := func() {
		if len(members) == 0 {
			return
		}
		batches = append(batches, models.OptimizationBatch{
			Pass:         pass,
			Index:        len(batches),
			Members:      members,
			InputTokens:  inputTokens,
			TargetTokens: targetFor(inputTokens, total, opts),
		})
		members = nil
		inputTokens = 0
	}

	for _, s := range sorted {
		if s.TokenCount > opts.BatchCeiling {
			closeBatch()
			s.Text = tok.Truncate(s.Text, opts.BatchCeiling)
			s.TokenCount = tok.Count(s.Text)
			members = []models.Summary{s}
			inputTokens = s.TokenCount
			closeBatch()
			continue
		}
		if inputTokens+s.TokenCount > opts.BatchCeiling {
			closeBatch()
		}
		members = append(members, s)
		inputTokens += s.TokenCount
	}
	closeBatch()

	return batches
}

// targetFor is min(output ceiling, in*ratio, the batch's share of the limit),
// at least MinTargetTokens and below in whenever in allows it.
func targetFor(in, total int, opts Options) int {
	target := int(math.Floor(float64(in) * opts.ShrinkRatio))
	if opts.OutputCeiling > 0 {
		target = min(target, opts.OutputCeiling)
	}
	if total > 0 {
		share := int(math.Floor(float64(opts.Limit) * float64(in) / float64(total)))
		target = min(target, share)
	}
	target = max(target, opts.MinTargetTokens)
	target = min(target, in-1)
	return max(target, 1)
}

// fold replaces the summaries of finished batches with their condensed form.
func (res *Result) fold(batches []models.OptimizationBatch, done map[int]models.Summary, tok tokenizer.Tokenizer, limit int) {
	if len(done) == 0 {
		return
	}
	res.Summaries = merge(res.Summaries, batches, done)
	res.Combined = combiner.Combine(res.Summaries, tok)
	res.LimitMet = res.Combined.TokenCount <= limit
}

// merge returns current with every member of a finished batch replaced by the
// batch's summary, in source order.
func merge(current []models.Summary, batches []models.OptimizationBatch, done map[int]models.Summary) []models.Summary {
	covered := make(map[int]bool)
	out := make([]models.Summary, 0, len(current))
	for i, s := range done {
		for _, m := range batches[i].Members {
			covered[m.SourceChunkIndex] = true
		}
		out = append(out, s)
	}
	for _, s := range current {
		if !covered[s.SourceChunkIndex] {
			out = append(out, s)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Summary) int {
		return a.SourceChunkIndex - b.SourceChunkIndex
	})
	return out
}

// condensed is one finished batch; late marks a batch that returned after the
// run was cancelled.
type condensed struct {
	summary models.Summary
	late    bool
}

// runPass condenses batches and returns the summary of each batch that
// finished before cancellation, keyed by batch index.
func runPass(ctx context.Context, pass int, batches []models.OptimizationBatch, c Condenser, opts Options) (map[int]models.Summary, error) {
	stopped := func() bool {
		return ctx.Err() != nil || (opts.Cancelled != nil && opts.Cancelled())
	}
	run := mapreduce.Map(ctx, batches, opts.MaxConcurrent, opts.Cancelled,
		func(cctx context.Context, _ int, b models.OptimizationBatch) (condensed, error) {
			s, err := c.Condense(cctx, b)
			return condensed{summary: s, late: stopped()}, err
		})

	done := make(map[int]models.Summary, len(batches))
	for r := range run.Results() {
		if r.Value.late {
			run.Stop()
			continue
		}
		done[r.Index] = r.Value.summary
		if opts.OnBatch != nil {
			opts.OnBatch(pass, len(done), len(batches), r.Value.summary)
		}
		if stopped() {
			run.Stop()
		}
	}
	if err := run.Err(); err != nil {
		return done, err
	}
	return done, ctx.Err()
}
