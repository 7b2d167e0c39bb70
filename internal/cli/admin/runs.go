package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloo-solutions/ragdesk/internal/api/handlers"
	"github.com/cloo-solutions/ragdesk/internal/cli"
	"github.com/cloo-solutions/ragdesk/internal/cli/client"
	"github.com/cloo-solutions/ragdesk/internal/config"
	"github.com/cloo-solutions/ragdesk/internal/database"
	"github.com/cloo-solutions/ragdesk/internal/domain"
	"github.com/cloo-solutions/ragdesk/internal/repository"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	succeeded = color.New(color.FgGreen, color.Bold).SprintFunc()
	failed    = color.New(color.FgRed, color.Bold).SprintFunc()
	running   = color.New(color.FgYellow).SprintFunc()
)

func statusLabel(status string) string {
	switch domain.IngestRunStatus(status) {
	case domain.IngestRunStatusSucceeded:
		return succeeded(status)
	case domain.IngestRunStatusFailed:
		return failed(status)
	case domain.IngestRunStatusRunning:
		return running(status)
	}
	return status
}

// RunsCmd returns the runs command
func RunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "runs",
		Short:       "List recent ingestion runs",
		Long:        "List the most recent setup runs with the state each one reached",
		RunE:        runRuns,
		Annotations: map[string]string{cli.EnvAnnotation: "DATABASE_URL,SERVER_URL"},
	}

	cmd.Flags().IntP("limit", "n", 20, "Maximum number of runs (1-100)")
	cmd.Flags().Bool("json", false, "Output runs as JSON")
	client.AddServerFlag(cmd)

	return cmd
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 1 || limit > 100 {
		return fmt.Errorf("--limit must be between 1 and 100, got %d", limit)
	}

	runs, err := listRuns(ctx, cmd, limit)
	if err != nil {
		return err
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	return printRuns(cmd, runs, asJSON)
}

func listRuns(ctx context.Context, cmd *cobra.Command, limit int) ([]*handlers.IngestRunResponse, error) {
	if url := client.ServerURL(cmd); url != "" {
		return client.NewAPIClient(url).Runs(ctx, limit)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	recorded, err := repository.NewIngestRunRepository(pool).ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingest runs: %w", err)
	}

	runs := make([]*handlers.IngestRunResponse, 0, len(recorded))
	for _, run := range recorded {
		runs = append(runs, handlers.NewIngestRunResponse(run))
	}
	return runs, nil
}

func printRuns(cmd *cobra.Command, runs []*handlers.IngestRunResponse, asJSON bool) error {
	out := cmd.OutOrStdout()

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}

	for i, run := range runs {
		fmt.Fprintf(out, "%s [%s] %s\n", run.ID, statusLabel(run.Status), run.StartedAt)
		fmt.Fprintf(out, "   Index: %s, State: %s\n", run.IndexName, run.State)
		fmt.Fprintf(out, "   Documents: %d, Chunks: %d, Records: %d\n", run.Documents, run.Chunks, run.Records)
		if len(run.Skipped) > 0 {
			fmt.Fprintf(out, "   Skipped: %d files\n", len(run.Skipped))
		}
		if run.Error != "" {
			fmt.Fprintf(out, "   Error: %s\n", run.Error)
		}
		if i < len(runs)-1 {
			fmt.Fprintln(out, strings.Repeat("-", 40))
		}
	}
	return nil
}
