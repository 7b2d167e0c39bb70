package admin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloo-solutions/ragdesk/internal/cli"
	"github.com/cloo-solutions/ragdesk/internal/cli/client"
	"github.com/cloo-solutions/ragdesk/internal/database"
	"github.com/cloo-solutions/ragdesk/internal/domain"
	"github.com/spf13/cobra"
)

// SetupCmd returns the setup command
func SetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "setup",
		Short:       "Ingest documents into the vector index",
		Long:        "Load, chunk and embed the configured documents and upsert them into the vector index, creating it if needed",
		RunE:        runSetup,
		Annotations: map[string]string{cli.EnvAnnotation: "DATABASE_URL,OPENAI_API_KEY,DOCUMENTS_DIR,DOCUMENTS_S3_BUCKET,DOCUMENTS_S3_PREFIX,INDEX_NAME,INDEX_DIMENSION,INDEX_METRIC"},
	}

	cmd.Flags().String("docs-dir", "", "Directory of documents to ingest (overrides DOCUMENTS_DIR)")
	cmd.Flags().Bool("no-migrate", false, "Skip database migrations before ingesting")
	client.AddServerFlag(cmd)

	return cmd
}

func runSetup(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if url := client.ServerURL(cmd); url != "" {
		return runRemoteSetup(ctx, cmd, client.NewAPIClient(url))
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	shutdownTelemetry := initTelemetry(cfg)
	defer shutdownTelemetry()

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		if err := database.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.ingest.Run(ctx)
	out := cmd.OutOrStdout()
	if report != nil {
		for _, s := range report.Skipped {
			fmt.Fprintf(out, "skipped %s: %s\n", s.Path, s.Error)
		}
	}
	if err != nil {
		var pe *domain.PipelineError
		if errors.As(err, &pe) {
			return fmt.Errorf("setup failed at %s: %w", pe.State, pe.Err)
		}
		return err
	}

	fmt.Fprintf(out, "Created Index and Added Data: %d documents, %d chunks, %d records (run %s)\n",
		report.Documents, report.Chunks, report.Records, report.RunID)
	return nil
}

func runRemoteSetup(ctx context.Context, cmd *cobra.Command, c *client.APIClient) error {
	resp, err := c.Setup(ctx)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.State != "" {
			return fmt.Errorf("setup failed at %s: %s", apiErr.State, apiErr.Message)
		}
		return err
	}

	out := cmd.OutOrStdout()
	for _, s := range resp.Skipped {
		fmt.Fprintf(out, "skipped %s: %s\n", s.Path, s.Error)
	}
	fmt.Fprintf(out, "%s: %d documents, %d chunks, %d records (run %s)\n",
		resp.Message, resp.Documents, resp.Chunks, resp.Records, resp.RunID)
	return nil
}
