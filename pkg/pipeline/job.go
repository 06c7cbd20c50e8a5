// Package pipeline runs the fetch, chunk, summarize, combine and optimize
// stages for one job and reports progress as a sequence of events.
package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dtnitsch/llm-doc-summarizer/internal/common"
	"github.com/dtnitsch/llm-doc-summarizer/models"
)

var (
	// ErrValidation is wrapped by every request validation failure.
	ErrValidation        = errors.New("invalid request")
	ErrInvalidURL        = fmt.Errorf("%w: invalid URL", ErrValidation)
	ErrInvalidTokenLimit = fmt.Errorf("%w: token_limit must be between %d and %d", ErrValidation, models.MinTokenLimit, models.MaxTokenLimit)
	ErrMissingCredential = fmt.Errorf("%w: API key is required", ErrValidation)
)

// Validate checks a request before any job exists and returns it with the URL sanitized.
func Validate(req models.ProcessRequest, requireCredential bool) (models.ProcessRequest, error) {
	cleaned, err := common.ValidateURL(req.URL)
	if err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	req.URL = cleaned

	if req.TokenLimit < models.MinTokenLimit || req.TokenLimit > models.MaxTokenLimit {
		return req, fmt.Errorf("%w (got %d)", ErrInvalidTokenLimit, req.TokenLimit)
	}

	req.Credential = strings.TrimSpace(req.Credential)
	if requireCredential && req.Credential == "" {
		return req, ErrMissingCredential
	}
	return req, nil
}

// Job is one run of the pipeline. Only the orchestrator changes its state;
// everything else reads it through the accessor methods.
type Job struct {
	ID         string
	URL        string
	TokenLimit int
	credential string
	createdAt  time.Time

	cancelled atomic.Bool
	started   atomic.Bool
	done      chan struct{}

	mu        sync.RWMutex
	stage     models.Stage
	progress  int
	status    string
	available []models.ArtifactKind
	artifacts []models.ArtifactRecord
	limitMet  bool
	err       error
	updatedAt time.Time
}

// NewJob validates req and creates a pending job.
func NewJob(req models.ProcessRequest, requireCredential bool) (*Job, error) {
	req, err := Validate(req, requireCredential)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Job{
		ID:         uuid.NewString(),
		URL:        req.URL,
		TokenLimit: req.TokenLimit,
		credential: req.Credential,
		createdAt:  now,
		done:       make(chan struct{}),
		stage:      models.StagePending,
		status:     "Queued",
		available:  []models.ArtifactKind{},
		updatedAt:  now,
	}, nil
}

// Cancel asks the job to stop at the next unit boundary. It is idempotent.
func (j *Job) Cancel() {
	j.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (j *Job) Cancelled() bool {
	return j.cancelled.Load()
}

// Done is closed once the job reaches a terminal stage.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) Stage() models.Stage {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stage
}

// Err returns the reason a failed job failed.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Available returns the artifact kinds that can be downloaded, in production order.
func (j *Job) Available() []models.ArtifactKind {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return slices.Clone(j.available)
}

// IsAvailable reports whether kind has been produced.
func (j *Job) IsAvailable(kind models.ArtifactKind) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return slices.Contains(j.available, kind)
}

// Artifacts lists every file stored for the job.
func (j *Job) Artifacts() []models.ArtifactRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return slices.Clone(j.artifacts)
}

// Snapshot returns a copy of the job's state.
func (j *Job) Snapshot() models.JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := models.JobSnapshot{
		ID:         j.ID,
		URL:        j.URL,
		TokenLimit: j.TokenLimit,
		Stage:      j.stage,
		Progress:   j.progress,
		Status:     j.status,
		Available:  slices.Clone(j.available),
		LimitMet:   j.limitMet,
		CreatedAt:  j.createdAt,
		UpdatedAt:  j.updatedAt,
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	return s
}

// event builds the progress record for the current state.
func (j *Job) event() models.ProgressEvent {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return models.ProgressEvent{
		Progress:  j.progress,
		Status:    j.status,
		Complete:  j.stage.IsTerminal(),
		Available: slices.Clone(j.available),
		Stage:     j.stage,
		JobID:     j.ID,
	}
}

// advance moves the job forward. Progress never decreases.
func (j *Job) advance(stage models.Stage, progress int, status string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stage = stage
	j.progress = max(j.progress, min(progress, 100))
	j.status = status
	j.updatedAt = time.Now().UTC()
}

func (j *Job) addArtifact(rec models.ArtifactRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.artifacts = append(j.artifacts, rec)
}

func (j *Job) markAvailable(kinds ...models.ArtifactKind) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, k := range kinds {
		if !slices.Contains(j.available, k) {
			j.available = append(j.available, k)
		}
	}
}

func (j *Job) setLimitMet(met bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.limitMet = met
}

func (j *Job) setErr(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.err = err
}
