package admin

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/ragdesk/internal/api/handlers"
	"github.com/cloo-solutions/ragdesk/internal/cli"
	"github.com/cloo-solutions/ragdesk/internal/config"
	"github.com/cloo-solutions/ragdesk/internal/database"
	"github.com/cloo-solutions/ragdesk/internal/jobs"
	"github.com/cloo-solutions/ragdesk/internal/server"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "serve",
		Short:       "Start the HTTP server",
		Long:        "Start the ragdesk HTTP server exposing /setup, /read and the question page",
		RunE:        runServe,
		Annotations: map[string]string{cli.EnvAnnotation: "PORT,DATABASE_URL,OPENAI_API_KEY,DOCUMENTS_DIR,DOCUMENTS_S3_BUCKET,INDEX_NAME,RESYNC_INTERVAL,WATCH_DOCUMENTS,SENTRY_DSN"},
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().String("docs-dir", "", "Directory of documents to ingest (overrides DOCUMENTS_DIR)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	shutdownTelemetry := initTelemetry(cfg)
	defer shutdownTelemetry()

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := database.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	router := server.NewRouter(server.RouterConfig{
		IndexName:    cfg.IndexName,
		SetupHandler: handlers.NewSetupHandler(a.ingest, a.runs),
		ReadHandler:  handlers.NewReadHandler(a.query),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var worker *jobs.Worker
	if cfg.ResyncInterval > 0 {
		worker = jobs.NewWorker(jobs.NewResyncJob(a.ingest), cfg.ResyncInterval)
		go worker.Start(ctx)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	if cfg.WatchDocuments && !cfg.UsesS3Documents() {
		watcher := jobs.NewWatcher(jobs.NewResyncJob(a.ingest), cfg.DocumentsDir, cfg.WatchDebounce)
		go func() {
			defer close(watchDone)
			if err := watcher.Start(watchCtx); err != nil {
				log.Printf("warning: document watch disabled: %v", err)
			}
		}()
	} else {
		if cfg.WatchDocuments {
			log.Println("warning: WATCH_DOCUMENTS only applies to DOCUMENTS_DIR; ignoring")
		}
		close(watchDone)
	}

	go func() {
		log.Printf("starting server on port %s (index %q)", cfg.Port, cfg.IndexName)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	if worker != nil {
		worker.Stop()
	}
	stopWatch()
	<-watchDone

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// loadConfig reads the environment and applies the flags shared by commands.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if f := cmd.Flags().Lookup("docs-dir"); f != nil && f.Changed {
		cfg.DocumentsDir = f.Value.String()
		cfg.DocumentsS3Bucket = ""
	}

	return cfg, nil
}
