package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/ragdesk/internal/cli"
	"github.com/cloo-solutions/ragdesk/internal/cli/admin"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ragdeskd",
		Short: "Question answering over your documents",
		Long: `ragdeskd indexes a directory or bucket of documents into a pgvector index
and answers questions about them with an OpenAI chat model.

Environment variables (RAGDESK_ prefix optional):
  DATABASE_URL     PostgreSQL connection string (required)
  OPENAI_API_KEY   OpenAI API key (required)
  DOCUMENTS_DIR    Directory to ingest (default: ./documents)
  SERVER_URL       Run setup, ask and runs against a remote server`,
		Version: version,
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.SetupCmd())
	rootCmd.AddCommand(admin.AskCmd())
	rootCmd.AddCommand(admin.RunsCmd())
	rootCmd.AddCommand(admin.MigrateCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
