package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/dtnitsch/llm-doc-summarizer/models"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/artifact_manager"
)

// Manager keeps at most one current job. Starting a job supersedes the
// previous one: it is cancelled and its artifacts are purged.
type Manager struct {
	logger            *slog.Logger
	orch              *Orchestrator
	requireCredential bool

	mu      sync.Mutex
	current *Job
}

func NewManager(logger *slog.Logger, orch *Orchestrator) *Manager {
	return &Manager{
		logger:            logger,
		orch:              orch,
		requireCredential: orch.Config.Provider != "ollama",
	}
}

// Start validates req, supersedes the current job and returns the new job with
// its progress sequence. Validation failures leave the current job untouched.
func (m *Manager) Start(ctx context.Context, req models.ProcessRequest) (*Job, iter.Seq[models.ProgressEvent], error) {
	job, err := NewJob(req, m.requireCredential)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	prev := m.current
	m.current = job
	m.mu.Unlock()

	if prev != nil {
		m.supersede(prev)
	}
	m.logger.Info("job started", "job_id", job.ID, "url", job.URL, "token_limit", job.TokenLimit)

	return job, m.orch.Run(ctx, job), nil
}

// supersede cancels prev and purges its artifacts once it can no longer write any.
func (m *Manager) supersede(prev *Job) {
	prev.Cancel()

	select {
	case <-prev.Done():
		m.purge(prev)
	default:
		if !prev.started.Load() {
			m.purge(prev)
			return
		}
		go func() {
			<-prev.Done()
			m.purge(prev)
		}()
	}
}

func (m *Manager) purge(job *Job) {
	if err := m.orch.Store.Purge(job.ID); err != nil {
		m.logger.Warn("failed to purge superseded job", "job_id", job.ID, "error", err)
	}
	if m.orch.Ledger != nil {
		if err := m.orch.Ledger.DeleteArtifacts(job.ID); err != nil {
			m.logger.Warn("failed to delete artifact records", "job_id", job.ID, "error", err)
		}
	}
}

// Current returns the current job, if any.
func (m *Manager) Current() (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != nil
}

// Cancel cancels the current job. It reports whether there was a running job to cancel.
func (m *Manager) Cancel() bool {
	job, ok := m.Current()
	if !ok || job.Stage().IsTerminal() {
		return false
	}
	job.Cancel()
	m.logger.Info("job cancel requested", "job_id", job.ID)
	return true
}

// Download returns the current job's artifacts of the given kind.
func (m *Manager) Download(kind models.ArtifactKind) (artifact_manager.Download, error) {
	job, ok := m.Current()
	if !ok {
		return artifact_manager.Download{}, fmt.Errorf("%w: no job has run", artifact_manager.ErrArtifactNotAvailable)
	}
	if !job.IsAvailable(kind) {
		return artifact_manager.Download{}, fmt.Errorf("%w: %s was not produced by job %s", artifact_manager.ErrArtifactNotAvailable, kind, job.ID)
	}
	return m.orch.Store.Download(job.ID, kind)
}
