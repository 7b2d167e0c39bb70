package server

import (
	_ "embed"
	"net/http"

	"github.com/cloo-solutions/ragdesk/internal/api"
	"github.com/cloo-solutions/ragdesk/internal/api/handlers"
	"github.com/cloo-solutions/ragdesk/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

//go:embed web/index.html
var indexPage []byte

type RouterConfig struct {
	IndexName    string
	SetupHandler *handlers.SetupHandler
	ReadHandler  *handlers.ReadHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 1 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.Sentry(cfg.IndexName))
	r.Use(middleware.AccessLog(cfg.IndexName))
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(indexPage)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/setup", func(r chi.Router) {
		r.Post("/", cfg.SetupHandler.Setup)
		r.Get("/runs", cfg.SetupHandler.ListRuns)
	})

	r.Post("/read", cfg.ReadHandler.Read)

	return r
}
