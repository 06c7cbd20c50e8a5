// Package manifest writes a YAML overview of a finished job next to its artifacts.
package manifest

import (
	"fmt"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/llm-doc-summarizer/models"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/storage"
)

const FileName = "manifest.yaml"

// JobManifest gives a lightweight overview of a job without reading its artifacts.
type JobManifest struct {
	GeneratedAt        string                  `yaml:"generated_at"`
	Job                models.JobSnapshot      `yaml:"job"`
	Title              string                  `yaml:"title,omitempty"`
	Chunks             int                     `yaml:"chunks"`
	Summaries          int                     `yaml:"summaries"`
	LowPriorityChunks  []int                   `yaml:"low_priority_chunks,omitempty"`
	CombinedTokens     int                     `yaml:"combined_tokens"`
	OptimizedTokens    int                     `yaml:"optimized_tokens,omitempty"`
	OptimizationPasses int                     `yaml:"optimization_passes,omitempty"`
	Artifacts          []models.ArtifactRecord `yaml:"artifacts"`
}

// Writer stores manifests under <baseDir>/<job id>/manifest.yaml.
type Writer struct {
	baseDir string
	s       *storage.Storage
}

func NewWriter(baseDir string) *Writer {
	return &Writer{baseDir: baseDir, s: &storage.Storage{}}
}

// Path returns where a job's manifest lives.
func (w *Writer) Path(jobID string) string {
	return filepath.Join(w.baseDir, jobID, FileName)
}

// Write fills in missing artifact sizes, stamps the manifest and saves it.
// Returns the path of the manifest file.
func (w *Writer) Write(m JobManifest) (string, error) {
	m.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	for i, a := range m.Artifacts {
		if a.SizeBytes == 0 && a.Path != "" {
			if stats, err := w.s.GetFileStats(a.Path); err == nil {
				m.Artifacts[i].SizeBytes = stats.SizeBytes
			}
		}
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("error marshalling manifest: %w", err)
	}

	path := w.Path(m.Job.ID)
	if err := w.s.SaveFile(path, data); err != nil {
		return "", fmt.Errorf("error saving manifest: %w", err)
	}
	return path, nil
}

// Read loads a previously written manifest.
func (w *Writer) Read(jobID string) (JobManifest, error) {
	var m JobManifest
	data, err := w.s.ReadFile(w.Path(jobID))
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("error parsing manifest: %w", err)
	}
	return m, nil
}
