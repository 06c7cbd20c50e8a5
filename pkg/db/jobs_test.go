package db

import (
	"errors"
	"testing"
	"time"

	"github.com/dtnitsch/llm-doc-summarizer/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Use in-memory database for tests
	database := &DB{path: ":memory:"}
	var err error
	database.DB, err = openDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := database.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	return database
}

func snapshot(id string, created time.Time) models.JobSnapshot {
	return models.JobSnapshot{
		ID:         id,
		URL:        "https://example.com/docs",
		TokenLimit: 32000,
		Stage:      models.StageFetching,
		Available:  []models.ArtifactKind{},
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestRecordJob_Upsert(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := snapshot("job-1", created)
	if err := db.RecordJob(s); err != nil {
		t.Fatalf("RecordJob() error = %v", err)
	}

	s.Stage = models.StageDone
	s.Progress = 100
	s.Status = "done"
	s.LimitMet = true
	s.Available = []models.ArtifactKind{models.ArtifactDocs, models.ArtifactCombined}
	s.UpdatedAt = created.Add(time.Minute)
	if err := db.RecordJob(s); err != nil {
		t.Fatalf("RecordJob() update error = %v", err)
	}

	got, err := db.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Stage != models.StageDone || got.Progress != 100 || !got.LimitMet {
		t.Errorf("GetJob() = %+v, want done/100/limit met", got)
	}
	if len(got.Available) != 2 || got.Available[1] != models.ArtifactCombined {
		t.Errorf("Available = %v", got.Available)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if !got.UpdatedAt.Equal(created.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v", got.UpdatedAt)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.GetJob("missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetJob() error = %v, want ErrJobNotFound", err)
	}
}

func TestListJobs_NewestFirst(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := db.RecordJob(snapshot(id, base.Add(time.Duration(i)*time.Millisecond))); err != nil {
			t.Fatalf("RecordJob(%s) error = %v", id, err)
		}
	}

	jobs, err := db.ListJobs(2)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("ListJobs() returned %d jobs, want 2", len(jobs))
	}
	if jobs[0].ID != "c" || jobs[1].ID != "b" {
		t.Errorf("ListJobs() order = %s, %s; want c, b", jobs[0].ID, jobs[1].ID)
	}
}

func TestArtifacts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := db.RecordJob(snapshot("job-1", time.Now())); err != nil {
		t.Fatalf("RecordJob() error = %v", err)
	}

	rec := models.ArtifactRecord{
		Kind:        models.ArtifactChunks,
		Name:        "chunk_0001.yaml",
		Path:        "/tmp/job-1/chunks/chunk_0001.yaml",
		SizeBytes:   120,
		ContentHash: "abc",
		TokenCount:  30,
	}
	if err := db.RecordArtifact("job-1", rec); err != nil {
		t.Fatalf("RecordArtifact() error = %v", err)
	}
	rec.SizeBytes = 150
	if err := db.RecordArtifact("job-1", rec); err != nil {
		t.Fatalf("RecordArtifact() replace error = %v", err)
	}

	got, err := db.ListArtifacts("job-1")
	if err != nil {
		t.Fatalf("ListArtifacts() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListArtifacts() returned %d rows, want 1", len(got))
	}
	if got[0] != rec {
		t.Errorf("ListArtifacts()[0] = %+v, want %+v", got[0], rec)
	}

	if err := db.DeleteArtifacts("job-1"); err != nil {
		t.Fatalf("DeleteArtifacts() error = %v", err)
	}
	got, err = db.ListArtifacts("job-1")
	if err != nil {
		t.Fatalf("ListArtifacts() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListArtifacts() after delete = %d rows, want 0", len(got))
	}
}

func TestRecordArtifact_UnknownJob(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	err := db.RecordArtifact("nope", models.ArtifactRecord{Kind: models.ArtifactDocs, Name: "x", Path: "x", ContentHash: "h"})
	if err == nil {
		t.Error("RecordArtifact() for unknown job succeeded, want foreign key error")
	}
}
