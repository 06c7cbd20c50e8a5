package main

import (
	"fmt"
	"os"

	"github.com/dtnitsch/llm-doc-summarizer/internal/jobs"
	"github.com/dtnitsch/llm-doc-summarizer/internal/process"
	"github.com/dtnitsch/llm-doc-summarizer/internal/server"
	"github.com/dtnitsch/llm-doc-summarizer/models"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "lds",
		Usage: "Summarize a documentation page into a token-budgeted digest",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   models.DefaultConfigFile,
				Usage:   "YAML config file (missing file uses defaults)",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Only log errors",
			},
			&cli.StringFlag{
				Name:  "output-dir",
				Usage: "Directory for job artifacts (overrides config)",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Job ledger database path (overrides config)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "process",
				Usage:  "Fetch, chunk, summarize and optimize one page",
				Action: process.ProcessAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "url",
						Aliases:  []string{"u"},
						Required: true,
						Usage:    "Documentation page to summarize",
					},
					&cli.IntFlag{
						Name:    "token-limit",
						Aliases: []string{"t"},
						Value:   models.DefaultTokenLimit,
						Usage:   fmt.Sprintf("Target size of the final summary (%d-%d)", models.MinTokenLimit, models.MaxTokenLimit),
					},
					&cli.StringFlag{
						Name:    "api-key",
						EnvVars: []string{"LDS_API_KEY", "OPENAI_API_KEY"},
						Usage:   "LLM provider API key",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print progress as NDJSON",
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: server.ServeAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (overrides config)",
					},
				},
			},
			{
				Name:   "jobs",
				Usage:  "List recent jobs",
				Action: jobs.JobsAction,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Maximum number of jobs to show",
					},
				},
			},
			{
				Name:      "job",
				Usage:     "Show one job and its artifacts",
				ArgsUsage: "<job id>",
				Action:    jobs.JobAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}
