package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtnitsch/llm-doc-summarizer/internal/testutil"
	"github.com/dtnitsch/llm-doc-summarizer/models"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/artifact_manager"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/combiner"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/db"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/llm"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/manifest"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/summarizer"
)

const testURL = "https://docs.example.com/guide"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	orch   *Orchestrator
	store  *artifact_manager.Manager
	ledger *db.DB
	client *testutil.ScriptedClient
}

func newFixture(t *testing.T, text string, mutate func(*models.Config)) *fixture {
	t.Helper()

	cfg := models.DefaultConfig()
	cfg.InputTokenCeiling = 50
	cfg.OutputTokenCeiling = 20
	cfg.MaxAttempts = 1
	cfg.Backoff = 0
	cfg.MinTargetTokens = 1
	cfg.SupportedLanguages = nil
	if mutate != nil {
		mutate(&cfg)
	}

	dir := t.TempDir()
	store, err := artifact_manager.NewManager(dir)
	require.NoError(t, err)
	ledger, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	client := &testutil.ScriptedClient{}
	tok := testutil.WordTokenizer{}

	return &fixture{
		orch: &Orchestrator{
			Logger:     discard,
			Config:     cfg,
			Fetcher:    testutil.StaticFetcher{Doc: models.Document{URL: testURL, Title: "Guide", Text: text}},
			Tokenizer:  tok,
			Summarizer: summarizer.New(discard, client, tok, cfg),
			Store:      store,
			Ledger:     ledger,
			Manifests:  manifest.NewWriter(dir),
		},
		store:  store,
		ledger: ledger,
		client: client,
	}
}

func newTestJob(t *testing.T, limit int) *Job {
	t.Helper()
	job, err := NewJob(models.ProcessRequest{URL: testURL, TokenLimit: limit, Credential: "sk-test"}, true)
	require.NoError(t, err)
	return job
}

func collect(seq func(func(models.ProgressEvent) bool)) []models.ProgressEvent {
	var events []models.ProgressEvent
	for ev := range seq {
		events = append(events, ev)
	}
	return events
}

func threeParagraphs() string {
	return strings.Join([]string{testutil.Words("a", 30), testutil.Words("b", 30), testutil.Words("c", 30)}, "\n\n")
}

func assertWellFormed(t *testing.T, events []models.ProgressEvent) {
	t.Helper()
	require.NotEmpty(t, events)
	for i, ev := range events {
		if i > 0 {
			assert.GreaterOrEqual(t, ev.Progress, events[i-1].Progress, "progress must not go backwards at event %d", i)
		}
		assert.Equal(t, i == len(events)-1, ev.Complete, "only the last event is complete (event %d)", i)
		assert.GreaterOrEqual(t, ev.Progress, 0)
		assert.LessOrEqual(t, ev.Progress, 100)
	}
}

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t, threeParagraphs(), nil)
	job := newTestJob(t, 1000)

	events := collect(f.orch.Run(context.Background(), job))
	assertWellFormed(t, events)

	last := events[len(events)-1]
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, models.StageDone, last.Stage)
	assert.Equal(t, []models.ArtifactKind{
		models.ArtifactDocs, models.ArtifactChunks, models.ArtifactSummaries, models.ArtifactCombined,
	}, last.Available)
	for _, ev := range events[:len(events)-1] {
		assert.Less(t, ev.Progress, 100)
	}

	assert.Len(t, f.client.Calls(), 3)
	for _, c := range f.client.Calls() {
		assert.Equal(t, "sk-test", c.Request.Credential)
		assert.Equal(t, 20, c.Request.MaxOutputTokens)
	}

	d, err := f.store.Download(job.ID, models.ArtifactCombined)
	require.NoError(t, err)
	assert.Len(t, combiner.Split(string(d.Data)), 3)

	_, err = f.store.Download(job.ID, models.ArtifactOptimized)
	assert.ErrorIs(t, err, artifact_manager.ErrArtifactNotAvailable)

	snap, err := f.ledger.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageDone, snap.Stage)
	assert.True(t, snap.LimitMet)

	m, err := f.orch.Manifests.Read(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Chunks)
	assert.Equal(t, "Guide", m.Title)
}

func TestRun_PreservesOrderUnderConcurrency(t *testing.T) {
	f := newFixture(t, threeParagraphs(), func(c *models.Config) { c.MaxConcurrent = 3 })
	delays := map[string]time.Duration{"a0": 30 * time.Millisecond, "b0": 15 * time.Millisecond, "c0": 0}
	f.client.Respond = func(_ context.Context, req llm.Request, _ int) (string, error) {
		for word, d := range delays {
			if strings.Contains(req.Prompt, word+" ") {
				time.Sleep(d)
				return "summary of " + word, nil
			}
		}
		return "", errors.New("unexpected prompt")
	}
	job := newTestJob(t, 1000)

	events := collect(f.orch.Run(context.Background(), job))
	require.Equal(t, models.StageDone, events[len(events)-1].Stage)

	d, err := f.store.Download(job.ID, models.ArtifactCombined)
	require.NoError(t, err)
	assert.Equal(t, []string{"summary of a0", "summary of b0", "summary of c0"}, combiner.Split(string(d.Data)))
}

func TestRun_OptimizesWhenOverLimit(t *testing.T) {
	text := strings.Join([]string{testutil.Words("a", 1000), testutil.Words("b", 1000), testutil.Words("c", 1000)}, "\n\n")
	f := newFixture(t, text, func(c *models.Config) {
		c.InputTokenCeiling = 2000
		c.OutputTokenCeiling = 1500
	})
	f.client.Respond = func(_ context.Context, req llm.Request, _ int) (string, error) {
		if req.MaxOutputTokens == 1500 {
			return testutil.Words("x", 900), nil
		}
		return testutil.Words("y", req.MaxOutputTokens), nil
	}
	job := newTestJob(t, 1000)

	events := collect(f.orch.Run(context.Background(), job))
	assertWellFormed(t, events)

	last := events[len(events)-1]
	assert.Equal(t, models.StageDone, last.Stage)
	assert.Equal(t, 100, last.Progress)
	assert.Contains(t, last.Available, models.ArtifactCombined)
	assert.Contains(t, last.Available, models.ArtifactOptimized)
	assert.Contains(t, last.Available, models.ArtifactOptimizedCombined)
	assert.True(t, job.Snapshot().LimitMet)

	sawOptimizing := false
	for _, ev := range events {
		if ev.Stage == models.StageOptimizing {
			sawOptimizing = true
			assert.GreaterOrEqual(t, ev.Progress, 85)
			assert.LessOrEqual(t, ev.Progress, 99)
		}
	}
	assert.True(t, sawOptimizing)

	orig, err := f.store.Download(job.ID, models.ArtifactCombined)
	require.NoError(t, err)
	assert.Len(t, combiner.Split(string(orig.Data)), 2, "pre-optimization summary is kept")

	opt, err := f.store.Download(job.ID, models.ArtifactOptimizedCombined)
	require.NoError(t, err)
	assert.Equal(t, 900, len(strings.Fields(string(opt.Data))))
}

func TestRun_InvalidCredentialFailsFast(t *testing.T) {
	f := newFixture(t, threeParagraphs(), nil)
	f.client.Respond = func(context.Context, llm.Request, int) (string, error) {
		return "", llm.ErrInvalidCredential
	}
	job := newTestJob(t, 1000)

	events := collect(f.orch.Run(context.Background(), job))
	assertWellFormed(t, events)

	last := events[len(events)-1]
	assert.Equal(t, models.StageFailed, last.Stage)
	assert.Less(t, last.Progress, 100)
	assert.Contains(t, last.Status, "API key")
	assert.Equal(t, []models.ArtifactKind{models.ArtifactDocs, models.ArtifactChunks}, last.Available)
	assert.ErrorIs(t, job.Err(), llm.ErrInvalidCredential)

	_, err := f.store.Download(job.ID, models.ArtifactSummaries)
	assert.ErrorIs(t, err, artifact_manager.ErrArtifactNotAvailable)
	_, err = f.store.Download(job.ID, models.ArtifactChunks)
	assert.NoError(t, err)
}

func TestRun_FetchErrorFails(t *testing.T) {
	f := newFixture(t, "", nil)
	f.orch.Fetcher = testutil.StaticFetcher{Err: errors.New("connection refused")}
	job := newTestJob(t, 1000)

	events := collect(f.orch.Run(context.Background(), job))
	last := events[len(events)-1]
	assert.Equal(t, models.StageFailed, last.Stage)
	assert.Contains(t, last.Status, "connection refused")
	assert.Empty(t, last.Available)
}

func TestRun_CancelBeforeStart(t *testing.T) {
	f := newFixture(t, threeParagraphs(), nil)
	job := newTestJob(t, 1000)
	job.Cancel()
	job.Cancel()

	events := collect(f.orch.Run(context.Background(), job))
	require.Len(t, events, 1)
	assert.Equal(t, models.StageCancelled, events[0].Stage)
	assert.True(t, events[0].Complete)
	assert.Empty(t, events[0].Available)
	assert.Empty(t, f.client.Calls())
	assert.Empty(t, job.Artifacts())
}

func TestRun_CancelMidSummarization(t *testing.T) {
	f := newFixture(t, threeParagraphs(), func(c *models.Config) { c.MaxConcurrent = 1 })
	job := newTestJob(t, 1000)
	f.client.Respond = func(_ context.Context, req llm.Request, _ int) (string, error) {
		job.Cancel()
		return "late result", nil
	}

	events := collect(f.orch.Run(context.Background(), job))
	last := events[len(events)-1]
	assert.Equal(t, models.StageCancelled, last.Stage)
	assert.Equal(t, []models.ArtifactKind{models.ArtifactDocs, models.ArtifactChunks}, last.Available)
	assert.Len(t, f.client.Calls(), 1)

	_, err := f.store.Download(job.ID, models.ArtifactSummaries)
	assert.ErrorIs(t, err, artifact_manager.ErrArtifactNotAvailable, "in-flight result must be discarded")
}

// waitCancelled blocks until job is cancelled, giving up after a few seconds.
func waitCancelled(job *Job) {
	for deadline := time.Now().Add(5 * time.Second); !job.Cancelled() && time.Now().Before(deadline); {
		time.Sleep(time.Millisecond)
	}
}

func TestRun_CancelAfterSecondSummaryKeepsCompleted(t *testing.T) {
	f := newFixture(t, threeParagraphs(), func(c *models.Config) { c.MaxConcurrent = 1 })
	job := newTestJob(t, 1000)
	f.client.Respond = func(_ context.Context, req llm.Request, attempt int) (string, error) {
		if attempt == 3 {
			waitCancelled(job)
		}
		return fmt.Sprintf("summary %d", attempt), nil
	}

	var events []models.ProgressEvent
	for ev := range f.orch.Run(context.Background(), job) {
		events = append(events, ev)
		if strings.HasPrefix(ev.Status, "Summarized 2 of 3") {
			job.Cancel()
		}
	}
	assertWellFormed(t, events)

	last := events[len(events)-1]
	assert.Equal(t, models.StageCancelled, last.Stage)
	assert.Equal(t, []models.ArtifactKind{models.ArtifactDocs, models.ArtifactChunks, models.ArtifactSummaries}, last.Available)

	d, err := f.store.Download(job.ID, models.ArtifactSummaries)
	require.NoError(t, err)
	assert.Equal(t, []string{"summary_0001.txt", "summary_0002.txt"}, zipNames(t, d.Data))

	m, err := f.orch.Manifests.Read(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Summaries)
}

func TestRun_RetriesExhaustedKeepsCompleted(t *testing.T) {
	f := newFixture(t, threeParagraphs(), func(c *models.Config) { c.MaxConcurrent = 1 })
	f.client.Respond = func(_ context.Context, req llm.Request, attempt int) (string, error) {
		if attempt >= 3 {
			return "", fmt.Errorf("%w: 503 from provider", llm.ErrTransport)
		}
		return fmt.Sprintf("summary %d", attempt), nil
	}
	job := newTestJob(t, 1000)

	events := collect(f.orch.Run(context.Background(), job))
	assertWellFormed(t, events)

	last := events[len(events)-1]
	assert.Equal(t, models.StageFailed, last.Stage)
	assert.Contains(t, last.Status, "kept failing")
	assert.Equal(t, []models.ArtifactKind{models.ArtifactDocs, models.ArtifactChunks, models.ArtifactSummaries}, last.Available)
	assert.ErrorIs(t, job.Err(), summarizer.ErrRetriesExhausted)

	d, err := f.store.Download(job.ID, models.ArtifactSummaries)
	require.NoError(t, err)
	assert.Equal(t, []string{"summary_0001.txt", "summary_0002.txt"}, zipNames(t, d.Data))
}

func TestRun_CancelDuringOptimizationKeepsFinishedBatches(t *testing.T) {
	text := strings.Join([]string{testutil.Words("a", 1000), testutil.Words("b", 1000), testutil.Words("c", 1000)}, "\n\n")
	f := newFixture(t, text, func(c *models.Config) {
		c.InputTokenCeiling = 2000
		c.OutputTokenCeiling = 1500
		c.MaxConcurrent = 1
	})
	job := newTestJob(t, 1000)
	var condenses atomic.Int32
	f.client.Respond = func(_ context.Context, req llm.Request, _ int) (string, error) {
		if req.MaxOutputTokens == 1500 {
			return testutil.Words("x", 1200), nil
		}
		if condenses.Add(1) > 1 {
			waitCancelled(job)
		}
		return testutil.Words("y", req.MaxOutputTokens), nil
	}

	var events []models.ProgressEvent
	for ev := range f.orch.Run(context.Background(), job) {
		events = append(events, ev)
		if strings.HasPrefix(ev.Status, "Optimization pass 1: batch 1 of 2") {
			job.Cancel()
		}
	}
	assertWellFormed(t, events)

	last := events[len(events)-1]
	assert.Equal(t, models.StageCancelled, last.Stage)
	assert.Equal(t, []models.ArtifactKind{
		models.ArtifactDocs, models.ArtifactChunks, models.ArtifactSummaries, models.ArtifactCombined,
		models.ArtifactOptimized, models.ArtifactOptimizedCombined,
	}, last.Available)

	// The first batch is condensed to its 500 token share; the second is kept as is.
	opt, err := f.store.Download(job.ID, models.ArtifactOptimizedCombined)
	require.NoError(t, err)
	assert.Equal(t, []string{testutil.Words("y", 500), testutil.Words("x", 1200)}, combiner.Split(string(opt.Data)))

	snap, err := f.ledger.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageCancelled, snap.Stage)
}

func TestRun_PassLimitNamedInStatus(t *testing.T) {
	text := strings.Join([]string{testutil.Words("a", 1000), testutil.Words("b", 1000)}, "\n\n")
	f := newFixture(t, text, func(c *models.Config) {
		c.InputTokenCeiling = 1500
		c.OutputTokenCeiling = 1200
		c.MaxPasses = 2
		// A high floor keeps every pass shrinking by only a token or two.
		c.MinTargetTokens = 900
	})
	f.client.Respond = func(_ context.Context, req llm.Request, _ int) (string, error) {
		if req.MaxOutputTokens == 1200 {
			return testutil.Words("x", 1000), nil
		}
		return testutil.Words("y", req.MaxOutputTokens), nil
	}
	job := newTestJob(t, 1000)

	events := collect(f.orch.Run(context.Background(), job))
	last := events[len(events)-1]
	require.Equal(t, models.StageDone, last.Stage)
	assert.False(t, job.Snapshot().LimitMet)
	assert.Contains(t, last.Status, "max_passes (2)")

	opt, err := f.store.Download(job.ID, models.ArtifactOptimizedCombined)
	require.NoError(t, err)
	assert.Equal(t, 899+1+899, len(strings.Fields(string(opt.Data))))
}

func TestRun_ConsumerStopsEarly(t *testing.T) {
	f := newFixture(t, threeParagraphs(), nil)
	job := newTestJob(t, 1000)

	for range f.orch.Run(context.Background(), job) {
		break
	}

	assert.True(t, job.Cancelled())
	assert.Equal(t, models.StageCancelled, job.Stage())
	select {
	case <-job.Done():
	default:
		t.Fatal("job should be finished")
	}
}

func TestRun_NotRestartable(t *testing.T) {
	f := newFixture(t, threeParagraphs(), nil)
	job := newTestJob(t, 1000)
	seq := f.orch.Run(context.Background(), job)

	assert.NotEmpty(t, collect(seq))
	assert.Empty(t, collect(seq))
	assert.Empty(t, collect(f.orch.Run(context.Background(), job)))
}

func TestRun_ContextCancelled(t *testing.T) {
	f := newFixture(t, threeParagraphs(), nil)
	job := newTestJob(t, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	f.client.Respond = func(context.Context, llm.Request, int) (string, error) {
		calls.Add(1)
		cancel()
		return "ok", nil
	}

	events := collect(f.orch.Run(ctx, job))
	assert.Equal(t, models.StageCancelled, events[len(events)-1].Stage)
	assert.NotContains(t, events[len(events)-1].Available, models.ArtifactSummaries)
}
