package artifact_manager

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dtnitsch/llm-doc-summarizer/internal/common"
	"github.com/dtnitsch/llm-doc-summarizer/models"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/storage"
)

const DefaultBaseDir = "lds-results"

// ErrArtifactNotAvailable is returned when a job never produced the requested kind.
var ErrArtifactNotAvailable = errors.New("artifact not available")

// Download is a ready-to-serve artifact.
type Download struct {
	Name        string
	ContentType string
	Data        []byte
}

// GetJobDir returns the directory holding a job's artifacts.
// Example: lds-results/<job id>/
func GetJobDir(baseDir, jobID string) string {
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}
	return filepath.Join(baseDir, jobID)
}

// GetArtifactPath returns the full path for a single artifact.
// Example: lds-results/<job id>/chunks/chunk_0001.yaml
func GetArtifactPath(baseDir, jobID string, kind models.ArtifactKind, name string) string {
	return filepath.Join(GetJobDir(baseDir, jobID), string(kind), name)
}

// Manager handles storage and retrieval of job artifacts on disk.
type Manager struct {
	baseDir string
	files   *storage.Storage
}

// NewManager creates a new Artifact Manager instance and ensures the base directory exists.
func NewManager(baseDir string) (*Manager, error) {
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &Manager{baseDir: baseDir, files: &storage.Storage{}}, nil
}

// BaseDir returns the root of the artifact tree.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// Put writes one artifact file and describes it.
func (m *Manager) Put(jobID string, kind models.ArtifactKind, name string, data []byte) (models.ArtifactRecord, error) {
	if jobID == "" || filepath.Base(name) != name || name == "." || name == "" {
		return models.ArtifactRecord{}, fmt.Errorf("invalid artifact name %q for job %q", name, jobID)
	}

	path := GetArtifactPath(m.baseDir, jobID, kind, name)
	if err := m.files.SaveFile(path, data); err != nil {
		return models.ArtifactRecord{}, fmt.Errorf("failed to write %s artifact: %w", kind, err)
	}

	return models.ArtifactRecord{
		Kind:        kind,
		Name:        name,
		Path:        path,
		SizeBytes:   int64(len(data)),
		ContentHash: common.ContentHash(data),
	}, nil
}

// Download returns a job's artifacts of one kind: the text file itself for
// single-file kinds, a zip archive of the directory otherwise.
func (m *Manager) Download(jobID string, kind models.ArtifactKind) (Download, error) {
	dir := filepath.Join(GetJobDir(m.baseDir, jobID), string(kind))
	names, err := m.files.ListFiles(dir)
	if err != nil {
		return Download{}, err
	}
	if len(names) == 0 {
		return Download{}, fmt.Errorf("%w: %s", ErrArtifactNotAvailable, kind)
	}

	if kind.SingleFile() {
		data, err := m.files.ReadFile(filepath.Join(dir, names[0]))
		if err != nil {
			return Download{}, fmt.Errorf("failed to read %s artifact: %w", kind, err)
		}
		return Download{Name: names[0], ContentType: "text/plain; charset=utf-8", Data: data}, nil
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		data, err := m.files.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return Download{}, fmt.Errorf("failed to read %s/%s: %w", kind, name, err)
		}
		w, err := zw.Create(name)
		if err != nil {
			return Download{}, fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
		if _, err := w.Write(data); err != nil {
			return Download{}, fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return Download{}, fmt.Errorf("failed to finish archive: %w", err)
	}

	return Download{Name: string(kind) + ".zip", ContentType: "application/zip", Data: buf.Bytes()}, nil
}

// Purge removes everything stored for a job.
func (m *Manager) Purge(jobID string) error {
	if jobID == "" {
		return nil
	}
	if err := m.files.RemoveAll(GetJobDir(m.baseDir, jobID)); err != nil {
		return fmt.Errorf("failed to purge job %s: %w", jobID, err)
	}
	return nil
}

var invalidFilenameChar = regexp.MustCompile(`[^a-zA-Z0-9\-_]+`)

// Slug creates a filesystem-safe name from a URL's host and path.
func Slug(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		safe := invalidFilenameChar.ReplaceAllString(rawURL, "_")
		return strings.Trim(safe, "_")
	}

	hostPart := strings.ReplaceAll(u.Host, ".", "_")
	hostPart = invalidFilenameChar.ReplaceAllString(hostPart, "_")
	pathPart := strings.TrimPrefix(u.Path, "/")
	pathPart = invalidFilenameChar.ReplaceAllString(pathPart, "_")
	pathPart = strings.Trim(pathPart, "_")

	if pathPart == "" {
		return hostPart
	}
	return fmt.Sprintf("%s_%s", hostPart, pathPart)
}
