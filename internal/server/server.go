// Package server exposes the pipeline over HTTP with an NDJSON progress stream.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dtnitsch/llm-doc-summarizer/models"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/artifact_manager"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/pipeline"
)

const (
	credentialHeader = "X-API-Key"
	maxRequestBytes  = 1 << 20
)

type Server struct {
	logger     *slog.Logger
	manager    *pipeline.Manager
	credential string
	mux        *http.ServeMux
}

// New returns a Server backed by manager. credential is used when a request
// carries no X-API-Key header; it may be empty.
func New(logger *slog.Logger, manager *pipeline.Manager, credential string) *Server {
	s := &Server{
		logger:     logger,
		manager:    manager,
		credential: credential,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /api/process", s.handleProcess)
	s.mux.HandleFunc("POST /api/cancel", s.handleCancel)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/download/{kind}", s.handleDownload)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type processBody struct {
	URL        string `json:"url"`
	TokenLimit int    `json:"token_limit"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var body processBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	credential := strings.TrimSpace(r.Header.Get(credentialHeader))
	if credential == "" {
		credential = s.credential
	}

	job, events, err := s.manager.Start(r.Context(), models.ProcessRequest{
		URL:        body.URL,
		TokenLimit: body.TokenLimit,
		Credential: credential,
	})
	if errors.Is(err, pipeline.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to start job", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start job")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Job-ID", job.ID)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			s.logger.Info("progress consumer went away", "job_id", job.ID, "error", err)
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.manager.Cancel()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.manager.Current()
	if !ok {
		writeError(w, http.StatusNotFound, "no job has run")
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	kind, ok := models.ParseArtifactKind(r.PathValue("kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown artifact kind %q", r.PathValue("kind")))
		return
	}

	dl, err := s.manager.Download(kind)
	if errors.Is(err, artifact_manager.ErrArtifactNotAvailable) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to read artifacts", "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read artifacts")
		return
	}

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.Name))
	w.WriteHeader(http.StatusOK)
	w.Write(dl.Data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
