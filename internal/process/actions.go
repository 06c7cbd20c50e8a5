package process

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dtnitsch/llm-doc-summarizer/internal/app"
	"github.com/dtnitsch/llm-doc-summarizer/models"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/artifact_manager"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/manifest"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
)

// ProcessAction runs one job in the foreground and streams its progress to stdout.
func ProcessAction(c *cli.Context) error {
	logger := app.NewLogger(c)

	cfg, err := app.LoadConfig(c)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(2)
	}

	rt, err := app.Build(logger, cfg)
	if err != nil {
		logger.Error("failed to initialize pipeline", "error", err)
		os.Exit(2)
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	credential := c.String("api-key")
	if credential == "" {
		credential = cfg.Credential
	}

	job, events, err := rt.Manager.Start(ctx, models.ProcessRequest{
		URL:        c.String("url"),
		TokenLimit: c.Int("token-limit"),
		Credential: credential,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), app.ExitCode(err))
	}

	p := newPrinter(os.Stdout, c.Bool("json"))
	for ev := range events {
		p.print(ev)
	}

	snap := job.Snapshot()
	switch snap.Stage {
	case models.StageDone:
		if !c.Bool("json") {
			printArtifacts(os.Stdout, rt.Artifacts.BaseDir(), job.ID, snap.Available)
		}
		return nil
	case models.StageCancelled:
		return cli.Exit("job cancelled", 130)
	default:
		return cli.Exit(snap.Status, 2)
	}
}

type printer struct {
	w       io.Writer
	jsonOut bool
	enc     *json.Encoder
}

func newPrinter(w io.Writer, jsonOut bool) *printer {
	return &printer{w: w, jsonOut: jsonOut, enc: json.NewEncoder(w)}
}

func (p *printer) print(ev models.ProgressEvent) {
	if p.jsonOut {
		p.enc.Encode(ev)
		return
	}
	fmt.Fprintln(p.w, formatEvent(ev))
}

func formatEvent(ev models.ProgressEvent) string {
	pct := fmt.Sprintf("[%3d%%]", ev.Progress)
	stage := fmt.Sprintf("%-11s", ev.Stage)

	switch ev.Stage {
	case models.StageDone:
		return color.GreenString(pct) + " " + color.New(color.FgGreen, color.Bold).Sprint(stage) + " " + ev.Status
	case models.StageFailed:
		return color.RedString(pct) + " " + color.New(color.FgRed, color.Bold).Sprint(stage) + " " + ev.Status
	case models.StageCancelled:
		return color.YellowString(pct) + " " + color.New(color.FgYellow, color.Bold).Sprint(stage) + " " + ev.Status
	default:
		return color.CyanString(pct) + " " + stage + " " + ev.Status
	}
}

func printArtifacts(w io.Writer, baseDir, jobID string, available []models.ArtifactKind) {
	if len(available) == 0 {
		return
	}
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintln(w)
	fmt.Fprintln(w, bold("Artifacts:"))
	for _, kind := range available {
		fmt.Fprintf(w, "  %-19s %s\n", kind, artifact_manager.GetArtifactPath(baseDir, jobID, kind, ""))
	}
	fmt.Fprintf(w, "  %-19s %s\n", "manifest", manifest.NewWriter(baseDir).Path(jobID))
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintf(w, "Job %s. Run 'lds job %s' for details.\n", jobID, jobID)
}
