package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/llm-doc-summarizer/models"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/artifact_manager"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/chunker"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/combiner"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/fetcher"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/llm"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/manifest"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/mapreduce"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/optimizer"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/summarizer"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/tokenizer"
)

// Fetcher retrieves a document's text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (models.Document, error)
}

// Summarizer turns chunks and batches into summaries.
type Summarizer interface {
	Summarize(ctx context.Context, chunk models.Chunk, credential string) (models.Summary, error)
	Condense(ctx context.Context, batch models.OptimizationBatch, credential string) (models.Summary, error)
}

// ArtifactStore persists job outputs.
type ArtifactStore interface {
	Put(jobID string, kind models.ArtifactKind, name string, data []byte) (models.ArtifactRecord, error)
	Download(jobID string, kind models.ArtifactKind) (artifact_manager.Download, error)
	Purge(jobID string) error
}

// Ledger keeps a history of jobs and where their artifacts live.
type Ledger interface {
	RecordJob(s models.JobSnapshot) error
	RecordArtifact(jobID string, a models.ArtifactRecord) error
	DeleteArtifacts(jobID string) error
}

// Orchestrator runs jobs. Ledger and Manifests are optional.
type Orchestrator struct {
	Logger     *slog.Logger
	Config     models.Config
	Fetcher    Fetcher
	Tokenizer  tokenizer.Tokenizer
	Summarizer Summarizer
	Store      ArtifactStore
	Ledger     Ledger
	Manifests  *manifest.Writer
}

// Run returns the job's progress events. Nothing happens until the sequence is
// iterated, and it can be iterated only once per job. Stopping the iteration
// early cancels the job; the job still reaches a terminal stage.
func (o *Orchestrator) Run(ctx context.Context, job *Job) iter.Seq[models.ProgressEvent] {
	return func(yield func(models.ProgressEvent) bool) {
		if !job.started.CompareAndSwap(false, true) {
			return
		}
		r := &run{o: o, job: job, yield: yield, logger: o.Logger.With("job_id", job.ID)}
		r.execute(ctx)
	}
}

// run holds the state of one execution; it lives on the iterating goroutine.
type run struct {
	o      *Orchestrator
	job    *Job
	yield  func(models.ProgressEvent) bool
	logger *slog.Logger

	consumerGone bool
	lastStage    models.Stage

	doc       models.Document
	chunks    []models.Chunk
	summaries []models.Summary
	combined  models.CombinedSummary
	optimized *optimizer.Result
}

// stopped reports whether work must not continue past this boundary.
func (r *run) stopped(ctx context.Context) bool {
	return r.job.Cancelled() || ctx.Err() != nil
}

// emit updates the job and sends one event. It returns false once the job
// should stop.
func (r *run) emit(stage models.Stage, progress int, status string) bool {
	r.job.advance(stage, progress, status)
	if stage != r.lastStage {
		r.lastStage = stage
		r.record()
	}
	if !r.consumerGone && !r.yield(r.job.event()) {
		r.consumerGone = true
		r.job.Cancel()
	}
	return !r.job.Cancelled()
}

func (r *run) record() {
	if r.o.Ledger == nil {
		return
	}
	if err := r.o.Ledger.RecordJob(r.job.Snapshot()); err != nil {
		r.logger.Warn("failed to record job", "error", err)
	}
}

func (r *run) execute(ctx context.Context) {
	defer close(r.job.done)

	r.record()
	stages := []func(context.Context) error{r.fetch, r.chunk, r.summarize, r.combine, r.optimize}
	for _, stage := range stages {
		if r.stopped(ctx) {
			r.finishCancelled()
			return
		}
		if err := stage(ctx); err != nil {
			if errors.Is(err, errStopped) || r.stopped(ctx) {
				r.finishCancelled()
				return
			}
			r.finishFailed(err)
			return
		}
	}
	if r.stopped(ctx) {
		r.finishCancelled()
		return
	}
	r.finishDone()
}

// errStopped signals a stage noticed cancellation between units.
var errStopped = errors.New("stopped")

// completion is one finished call; late marks a call that returned after the
// job was stopped.
type completion struct {
	summary models.Summary
	late    bool
}

func (r *run) fetch(ctx context.Context) error {
	if !r.emit(models.StageFetching, 0, "Fetching "+r.job.URL) {
		return errStopped
	}

	doc, err := r.o.Fetcher.Fetch(ctx, r.job.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch document: %w", err)
	}
	if r.stopped(ctx) {
		return errStopped
	}
	r.doc = doc

	name := artifact_manager.Slug(doc.URL) + ".txt"
	if err := r.put(models.ArtifactDocs, name, []byte(doc.Text), 0); err != nil {
		return err
	}
	r.job.markAvailable(models.ArtifactDocs)
	r.logger.Info("document fetched", "url", doc.URL, "chars", len(doc.Text))

	if !r.emit(models.StageFetching, stageEnd(models.StageFetching), fmt.Sprintf("Fetched %d characters", len(doc.Text))) {
		return errStopped
	}
	return nil
}

func (r *run) chunk(ctx context.Context) error {
	if !r.emit(models.StageChunking, scaled(models.StageChunking, 0, 1), "Chunking document") {
		return errStopped
	}

	chunks, err := chunker.Chunk(r.doc.Text, r.o.Config.InputTokenCeiling, r.o.Tokenizer)
	if err != nil {
		return fmt.Errorf("failed to chunk document: %w", err)
	}

	for i, c := range chunks {
		if r.stopped(ctx) {
			return errStopped
		}
		data, err := yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to encode chunk %d: %w", c.Index, err)
		}
		if err := r.put(models.ArtifactChunks, fmt.Sprintf("chunk_%04d.yaml", c.Index+1), data, c.TokenCount); err != nil {
			return err
		}
		r.job.markAvailable(models.ArtifactChunks)
		status := fmt.Sprintf("Chunked %d of %d (%d tokens)", i+1, len(chunks), c.TokenCount)
		if !r.emit(models.StageChunking, scaled(models.StageChunking, i+1, len(chunks)), status) {
			return errStopped
		}
	}

	r.chunks = chunks
	r.logger.Info("document chunked", "chunks", len(chunks))
	return nil
}

func (r *run) summarize(ctx context.Context) error {
	n := len(r.chunks)
	if !r.emit(models.StageSummarizing, scaled(models.StageSummarizing, 0, n), fmt.Sprintf("Summarizing %d chunks", n)) {
		return errStopped
	}

	results := mapreduce.Map(ctx, r.chunks, r.o.Config.MaxConcurrent, r.job.Cancelled,
		func(cctx context.Context, _ int, c models.Chunk) (completion, error) {
			s, err := r.o.Summarizer.Summarize(cctx, c, r.job.credential)
			return completion{summary: s, late: r.stopped(ctx)}, err
		})

	// Every summary finished before cancellation is stored, including those
	// read after it; a call that returns once the job is stopped is dropped.
	summaries := make([]models.Summary, n)
	finished := make([]bool, n)
	done := 0
	var storeErr error
	for res := range results.Results() {
		if storeErr != nil || res.Value.late {
			results.Stop()
			continue
		}

		s := res.Value.summary
		if err := r.put(models.ArtifactSummaries, fmt.Sprintf("summary_%04d.txt", s.SourceChunkIndex+1), []byte(s.Text), s.TokenCount); err != nil {
			storeErr = err
			results.Stop()
			continue
		}
		summaries[res.Index] = s
		finished[res.Index] = true
		done++
		r.job.markAvailable(models.ArtifactSummaries)

		if r.job.Cancelled() {
			results.Stop()
			continue
		}
		status := fmt.Sprintf("Summarized %d of %d chunks", done, n)
		if s.LowPriority {
			status += fmt.Sprintf(" (chunk %d looks like %q, flagged low priority)", s.SourceChunkIndex+1, s.Language)
		}
		if !r.emit(models.StageSummarizing, scaled(models.StageSummarizing, done, n), status) {
			results.Stop()
		}
	}

	if done < n {
		r.summaries = make([]models.Summary, 0, done)
		for i, ok := range finished {
			if ok {
				r.summaries = append(r.summaries, summaries[i])
			}
		}
	} else {
		r.summaries = summaries
	}

	if r.stopped(ctx) {
		return errStopped
	}
	if err := results.Err(); err != nil {
		return err
	}
	if storeErr != nil {
		return storeErr
	}
	return nil
}

func (r *run) combine(ctx context.Context) error {
	if !r.emit(models.StageCombining, scaled(models.StageCombining, 0, 1), "Combining summaries") {
		return errStopped
	}

	r.combined = combiner.Combine(r.summaries, r.o.Tokenizer)
	if err := r.put(models.ArtifactCombined, "combined_summary.txt", []byte(r.combined.Text), r.combined.TokenCount); err != nil {
		return err
	}
	r.job.markAvailable(models.ArtifactCombined)
	r.job.setLimitMet(r.combined.TokenCount <= r.job.TokenLimit)

	status := fmt.Sprintf("Combined summary: %d tokens", r.combined.TokenCount)
	if !r.emit(models.StageCombining, stageEnd(models.StageCombining), status) {
		return errStopped
	}
	return nil
}

func (r *run) optimize(ctx context.Context) error {
	if r.combined.TokenCount <= r.job.TokenLimit {
		return nil
	}

	cfg := r.o.Config
	status := fmt.Sprintf("Combined summary has %d tokens, optimizing to %d", r.combined.TokenCount, r.job.TokenLimit)
	if !r.emit(models.StageOptimizing, scaled(models.StageOptimizing, 0, 1), status) {
		return errStopped
	}

	condense := optimizer.CondenserFunc(func(ctx context.Context, b models.OptimizationBatch) (models.Summary, error) {
		return r.o.Summarizer.Condense(ctx, b, r.job.credential)
	})
	passes := max(cfg.MaxPasses, 1)

	res, err := optimizer.Optimize(ctx, r.summaries, r.o.Tokenizer, condense, optimizer.Options{
		Limit:           r.job.TokenLimit,
		BatchCeiling:    cfg.InputTokenCeiling,
		OutputCeiling:   cfg.OutputTokenCeiling,
		ShrinkRatio:     cfg.ShrinkRatio,
		MinTargetTokens: cfg.MinTargetTokens,
		MaxPasses:       passes,
		MaxConcurrent:   cfg.MaxConcurrent,
		Cancelled:       r.job.Cancelled,
		OnBatch: func(pass, done, total int, _ models.Summary) {
			progress := scaled(models.StageOptimizing, (pass-1)*total+done, passes*total)
			r.emit(models.StageOptimizing, progress, fmt.Sprintf("Optimization pass %d: batch %d of %d", pass, done, total))
		},
	})

	// A cancelled or failed run still hands back every batch that finished.
	if res.Condensed > 0 {
		if serr := r.storeOptimized(res); serr != nil {
			if err == nil {
				return serr
			}
			r.logger.Warn("failed to store partial optimization", "error", serr)
		}
	}
	if err != nil {
		return err
	}
	if res.Cancelled || r.stopped(ctx) {
		return errStopped
	}

	r.job.setLimitMet(res.LimitMet)
	r.logger.Info("optimization finished", "passes", res.Passes, "tokens", res.Combined.TokenCount, "limit_met", res.LimitMet)
	return nil
}

func (r *run) storeOptimized(res optimizer.Result) error {
	for i, s := range res.Summaries {
		if err := r.put(models.ArtifactOptimized, fmt.Sprintf("optimized_%04d.txt", i+1), []byte(s.Text), s.TokenCount); err != nil {
			return err
		}
	}
	if err := r.put(models.ArtifactOptimizedCombined, "optimized_combined_summary.txt", []byte(res.Combined.Text), res.Combined.TokenCount); err != nil {
		return err
	}
	r.job.markAvailable(models.ArtifactOptimized, models.ArtifactOptimizedCombined)
	r.optimized = &res
	return nil
}

func (r *run) put(kind models.ArtifactKind, name string, data []byte, tokens int) error {
	rec, err := r.o.Store.Put(r.job.ID, kind, name, data)
	if err != nil {
		return fmt.Errorf("failed to store %s artifact: %w", kind, err)
	}
	rec.TokenCount = tokens
	r.job.addArtifact(rec)

	if r.o.Ledger != nil {
		if err := r.o.Ledger.RecordArtifact(r.job.ID, rec); err != nil {
			r.logger.Warn("failed to record artifact", "kind", kind, "name", name, "error", err)
		}
	}
	return nil
}

func (r *run) finishDone() {
	status := fmt.Sprintf("Done: combined summary has %d tokens", r.combined.TokenCount)
	if r.optimized != nil {
		switch {
		case r.optimized.LimitMet:
			status = fmt.Sprintf("Done: optimized summary has %d tokens after %d passes", r.optimized.Combined.TokenCount, r.optimized.Passes)
		case r.optimized.PassLimitReached:
			status = fmt.Sprintf("Done: optimized summary has %d tokens; stopped after max_passes (%d) with the limit of %d not yet met",
				r.optimized.Combined.TokenCount, r.optimized.Passes, r.job.TokenLimit)
		default:
			status = fmt.Sprintf("Done: optimized summary has %d tokens after %d passes; the limit of %d could not be met",
				r.optimized.Combined.TokenCount, r.optimized.Passes, r.job.TokenLimit)
		}
	}
	r.finish(models.StageDone, 100, status)
}

func (r *run) finishFailed(err error) {
	r.job.setErr(err)
	r.logger.Error("job failed", "stage", r.job.Stage(), "error", err)
	r.finish(models.StageFailed, 0, "Failed: "+describe(err))
}

func (r *run) finishCancelled() {
	r.logger.Info("job cancelled", "stage", r.job.Stage())
	r.finish(models.StageCancelled, 0, "Cancelled")
}

func (r *run) finish(stage models.Stage, progress int, status string) {
	r.job.advance(stage, progress, status)
	r.record()
	r.writeManifest()
	if !r.consumerGone {
		r.yield(r.job.event())
	}
}

func (r *run) writeManifest() {
	if r.o.Manifests == nil || len(r.job.Artifacts()) == 0 {
		return
	}

	m := manifest.JobManifest{
		Job:            r.job.Snapshot(),
		Title:          r.doc.Title,
		Chunks:         len(r.chunks),
		Summaries:      len(r.summaries),
		CombinedTokens: r.combined.TokenCount,
		Artifacts:      r.job.Artifacts(),
	}
	for _, s := range r.summaries {
		if s.LowPriority {
			m.LowPriorityChunks = append(m.LowPriorityChunks, s.SourceChunkIndex)
		}
	}
	if r.optimized != nil {
		m.OptimizedTokens = r.optimized.Combined.TokenCount
		m.OptimizationPasses = r.optimized.Passes
	}

	if _, err := r.o.Manifests.Write(m); err != nil {
		r.logger.Warn("failed to write manifest", "error", err)
	}
}

// describe turns a pipeline error into the reason shown to the user.
func describe(err error) string {
	switch {
	case errors.Is(err, llm.ErrInvalidCredential):
		return "the LLM provider rejected the API key"
	case errors.Is(err, summarizer.ErrRetriesExhausted):
		return "the LLM provider kept failing: " + err.Error()
	case errors.Is(err, llm.ErrRejected):
		return "the LLM provider refused the request: " + err.Error()
	case fetcher.IsFetchError(err):
		return "could not retrieve the page: " + err.Error()
	default:
		return err.Error()
	}
}
