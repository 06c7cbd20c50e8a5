package models

import "time"

// Stage is a state of the job state machine.
type Stage string

const (
	StagePending     Stage = "pending"
	StageFetching    Stage = "fetching"
	StageChunking    Stage = "chunking"
	StageSummarizing Stage = "summarizing"
	StageCombining   Stage = "combining"
	StageOptimizing  Stage = "optimizing"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
	StageCancelled   Stage = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageFailed || s == StageCancelled
}

// ArtifactKind names a downloadable output of a job.
type ArtifactKind string

const (
	ArtifactDocs              ArtifactKind = "docs"
	ArtifactChunks            ArtifactKind = "chunks"
	ArtifactSummaries         ArtifactKind = "summaries"
	ArtifactCombined          ArtifactKind = "combined"
	ArtifactOptimized         ArtifactKind = "optimized"
	ArtifactOptimizedCombined ArtifactKind = "optimized_combined"
)

// AllArtifactKinds lists every kind in the order they are produced.
var AllArtifactKinds = []ArtifactKind{
	ArtifactDocs,
	ArtifactChunks,
	ArtifactSummaries,
	ArtifactCombined,
	ArtifactOptimized,
	ArtifactOptimizedCombined,
}

// ParseArtifactKind validates a user-supplied kind.
func ParseArtifactKind(s string) (ArtifactKind, bool) {
	for _, k := range AllArtifactKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// SingleFile reports whether the kind is served as one text file rather than an archive.
func (k ArtifactKind) SingleFile() bool {
	return k == ArtifactCombined || k == ArtifactOptimizedCombined
}

// ProgressEvent is one record of the progress stream.
type ProgressEvent struct {
	Progress  int            `json:"progress"`
	Status    string         `json:"status"`
	Complete  bool           `json:"complete"`
	Available []ArtifactKind `json:"available"`
	Stage     Stage          `json:"stage,omitempty"`
	JobID     string         `json:"job_id,omitempty"`
}

// ArtifactRecord describes one stored artifact file.
type ArtifactRecord struct {
	Kind        ArtifactKind `json:"kind" yaml:"kind"`
	Name        string       `json:"name" yaml:"name"`
	Path        string       `json:"path" yaml:"path"`
	SizeBytes   int64        `json:"size_bytes" yaml:"size_bytes"`
	ContentHash string       `json:"content_hash" yaml:"content_hash"`
	TokenCount  int          `json:"token_count,omitempty" yaml:"token_count,omitempty"`
}

// JobSnapshot is a read-only copy of a job's state.
type JobSnapshot struct {
	ID         string         `json:"id" yaml:"id"`
	URL        string         `json:"url" yaml:"url"`
	TokenLimit int            `json:"token_limit" yaml:"token_limit"`
	Stage      Stage          `json:"stage" yaml:"stage"`
	Progress   int            `json:"progress" yaml:"progress"`
	Status     string         `json:"status" yaml:"status"`
	Available  []ArtifactKind `json:"available" yaml:"available"`
	LimitMet   bool           `json:"limit_met" yaml:"limit_met"`
	Error      string         `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" yaml:"updated_at"`
}

// ProcessRequest is a request to start a job.
type ProcessRequest struct {
	URL        string `json:"url"`
	TokenLimit int    `json:"token_limit"`
	Credential string `json:"-"`
}
