package jobs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dtnitsch/llm-doc-summarizer/internal/app"
	"github.com/dtnitsch/llm-doc-summarizer/models"
	dbpkg "github.com/dtnitsch/llm-doc-summarizer/pkg/db"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// JobsAction lists recent jobs from the ledger.
func JobsAction(c *cli.Context) error {
	cfg, err := app.LoadConfig(c)
	if err != nil {
		return err
	}
	database, err := dbpkg.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	jobs, err := database.ListJobs(c.Int("limit"))
	if err != nil {
		return err
	}
	printJobs(os.Stdout, jobs)
	return nil
}

// JobAction prints one job and its artifacts as YAML.
func JobAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("Error: job id is required. Run 'lds jobs' to list jobs", 1)
	}
	cfg, err := app.LoadConfig(c)
	if err != nil {
		return err
	}
	database, err := dbpkg.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	detail, err := loadDetail(database, c.Args().First())
	if errors.Is(err, dbpkg.ErrJobNotFound) {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

type jobDetail struct {
	Job       models.JobSnapshot      `yaml:"job"`
	Artifacts []models.ArtifactRecord `yaml:"artifacts"`
}

func loadDetail(database *dbpkg.DB, jobID string) (jobDetail, error) {
	job, err := database.GetJob(jobID)
	if err != nil {
		return jobDetail{}, err
	}
	artifacts, err := database.ListArtifacts(jobID)
	if err != nil {
		return jobDetail{}, err
	}
	return jobDetail{Job: job, Artifacts: artifacts}, nil
}

func printJobs(w io.Writer, jobs []models.JobSnapshot) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return
	}

	fmt.Fprintf(w, "%-36s  %-20s  %-10s  %-5s  %-6s  %s\n", "ID", "Created", "Stage", "Limit", "Met", "URL")
	fmt.Fprintln(w, strings.Repeat("-", 120))
	for _, j := range jobs {
		fmt.Fprintf(w, "%-36s  %-20s  %-10s  %-5d  %-6t  %s\n",
			j.ID,
			j.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			j.Stage,
			j.TokenLimit,
			j.LimitMet,
			j.URL,
		)
	}
	fmt.Fprintf(w, "\nTotal: %d jobs\n", len(jobs))
}
