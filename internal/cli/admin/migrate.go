package admin

import (
	"fmt"

	"github.com/cloo-solutions/ragdesk/internal/cli"
	"github.com/cloo-solutions/ragdesk/internal/config"
	"github.com/cloo-solutions/ragdesk/internal/database"
	"github.com/spf13/cobra"
)

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "migrate",
		Short:       "Apply database migrations",
		Long:        "Apply the embedded schema migrations for the index registry and the ingest run log",
		RunE:        runMigrate,
		Annotations: map[string]string{cli.EnvAnnotation: "DATABASE_URL"},
	}

	cmd.Flags().Bool("down", false, "Roll back all migrations instead of applying them")

	return cmd
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	down, _ := cmd.Flags().GetBool("down")
	if down {
		return database.MigrateDown(cfg.DatabaseURL)
	}
	return database.Migrate(cfg.DatabaseURL)
}
