// Package app wires configuration, storage and the pipeline for the CLI commands.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dtnitsch/llm-doc-summarizer/models"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/artifact_manager"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/caching"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/db"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/fetcher"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/llm"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/manifest"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/pipeline"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/summarizer"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/tokenizer"
	"github.com/urfave/cli/v2"
)

// NewLogger returns the JSON stderr logger; --quiet keeps only errors.
func NewLogger(c *cli.Context) *slog.Logger {
	logLevel := slog.LevelInfo
	if c.Bool("quiet") {
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// LoadConfig reads the config file named by --config and applies the global flags.
func LoadConfig(c *cli.Context) (models.Config, error) {
	cfg, err := models.LoadConfig(c.String("config"))
	if err != nil {
		return cfg, err
	}
	if c.IsSet("output-dir") {
		cfg.OutputDir = c.String("output-dir")
	}
	if c.IsSet("db") {
		cfg.DBPath = c.String("db")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Runtime is everything a command needs to run jobs.
type Runtime struct {
	Config    models.Config
	Manager   *pipeline.Manager
	Artifacts *artifact_manager.Manager
	DB        *db.DB
}

// Build constructs the pipeline from cfg. Close the returned Runtime when done.
func Build(logger *slog.Logger, cfg models.Config) (*Runtime, error) {
	tok, err := tokenizer.Resolve(cfg.Model, cfg.Encoding)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	store, err := artifact_manager.NewManager(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact manager: %w", err)
	}

	var cache *caching.Cache
	if cfg.CacheDir != "" && cfg.CacheTTL > 0 {
		cache, err = caching.NewCache(cfg.CacheDir, cfg.CacheTTL)
		if err != nil {
			return nil, err
		}
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	orch := &pipeline.Orchestrator{
		Logger:     logger,
		Config:     cfg,
		Fetcher:    fetcher.NewFetcher(logger, cfg, cache),
		Tokenizer:  tok,
		Summarizer: summarizer.New(logger, client, tok, cfg),
		Store:      store,
		Ledger:     database,
		Manifests:  manifest.NewWriter(store.BaseDir()),
	}

	return &Runtime{
		Config:    cfg,
		Manager:   pipeline.NewManager(logger, orch),
		Artifacts: store,
		DB:        database,
	}, nil
}

// Close releases the ledger.
func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, pipeline.ErrValidation):
		return 1
	default:
		return 2
	}
}
