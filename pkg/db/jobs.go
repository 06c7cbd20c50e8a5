package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dtnitsch/llm-doc-summarizer/models"
)

// ErrJobNotFound is returned when no job has the requested id.
var ErrJobNotFound = errors.New("job not found")

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RecordJob inserts or updates the row for a job snapshot.
func (db *DB) RecordJob(s models.JobSnapshot) error {
	_, err := db.Exec(`
		INSERT INTO jobs (job_id, url, token_limit, stage, progress, status, available, limit_met, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			stage = excluded.stage,
			progress = excluded.progress,
			status = excluded.status,
			available = excluded.available,
			limit_met = excluded.limit_met,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, s.ID, s.URL, s.TokenLimit, string(s.Stage), s.Progress, s.Status, joinKinds(s.Available),
		s.LimitMet, s.Error, formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", s.ID, err)
	}
	return nil
}

// RecordArtifact stores the location of an artifact file. Re-recording the
// same (job, kind, name) replaces the previous row.
func (db *DB) RecordArtifact(jobID string, a models.ArtifactRecord) error {
	_, err := db.Exec(`
		INSERT INTO artifacts (job_id, kind, name, file_path, size_bytes, content_hash, token_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, kind, name) DO UPDATE SET
			file_path = excluded.file_path,
			size_bytes = excluded.size_bytes,
			content_hash = excluded.content_hash,
			token_count = excluded.token_count
	`, jobID, string(a.Kind), a.Name, a.Path, a.SizeBytes, a.ContentHash, a.TokenCount)
	if err != nil {
		return fmt.Errorf("failed to record artifact %s/%s: %w", a.Kind, a.Name, err)
	}
	return nil
}

// GetJob returns the last recorded snapshot of a job.
func (db *DB) GetJob(jobID string) (models.JobSnapshot, error) {
	row := db.QueryRow(`
		SELECT job_id, url, token_limit, stage, progress, status, available, limit_met, error, created_at, updated_at
		FROM jobs WHERE job_id = ?
	`, jobID)

	s, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.JobSnapshot{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return models.JobSnapshot{}, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return s, nil
}

// ListJobs returns the most recent jobs first.
func (db *DB) ListJobs(limit int) ([]models.JobSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT job_id, url, token_limit, stage, progress, status, available, limit_met, error, created_at, updated_at
		FROM jobs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.JobSnapshot
	for rows.Next() {
		s, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, s)
	}
	return jobs, rows.Err()
}

// ListArtifacts returns a job's artifacts ordered by kind and name.
func (db *DB) ListArtifacts(jobID string) ([]models.ArtifactRecord, error) {
	rows, err := db.Query(`
		SELECT kind, name, file_path, size_bytes, content_hash, token_count
		FROM artifacts WHERE job_id = ? ORDER BY artifact_id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var out []models.ArtifactRecord
	for rows.Next() {
		var a models.ArtifactRecord
		var kind string
		if err := rows.Scan(&kind, &a.Name, &a.Path, &a.SizeBytes, &a.ContentHash, &a.TokenCount); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		a.Kind = models.ArtifactKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteArtifacts removes a job's artifact rows; the job row is kept.
func (db *DB) DeleteArtifacts(jobID string) error {
	if _, err := db.Exec("DELETE FROM artifacts WHERE job_id = ?", jobID); err != nil {
		return fmt.Errorf("failed to delete artifacts for job %s: %w", jobID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (models.JobSnapshot, error) {
	var s models.JobSnapshot
	var stage, createdAt, updatedAt string
	var status, available, errMsg sql.NullString

	if err := row.Scan(&s.ID, &s.URL, &s.TokenLimit, &stage, &s.Progress, &status, &available,
		&s.LimitMet, &errMsg, &createdAt, &updatedAt); err != nil {
		return s, err
	}

	s.Stage = models.Stage(stage)
	s.Status = status.String
	s.Error = errMsg.String
	s.Available = splitKinds(available.String)
	s.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	s.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return s, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func joinKinds(kinds []models.ArtifactKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}

func splitKinds(s string) []models.ArtifactKind {
	if s == "" {
		return []models.ArtifactKind{}
	}
	var kinds []models.ArtifactKind
	for _, part := range strings.Split(s, ",") {
		kinds = append(kinds, models.ArtifactKind(part))
	}
	return kinds
}
