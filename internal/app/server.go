package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/markdave123-py/diagnovet/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/diagnovet/internal/api/middlewares"
	"github.com/markdave123-py/diagnovet/internal/config"
	"github.com/markdave123-py/diagnovet/pkg/metrics"
)

// Deps are the collaborators the routes are wired to.
type Deps struct {
	Reports   handlers.ReportAPI
	Status    handlers.StatusReader
	Uploads   handlers.Uploader
	Exports   handlers.Exporter
	Users     handlers.Authenticator
	Ingestor  ingestorAPI
	Extractor handlers.LLMInspector
	Metrics   *metrics.Collector
}

type ingestorAPI interface {
	handlers.JobQueue
	handlers.QueueInspector
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, d Deps, log *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           NewRouter(cfg, d, log),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log.Named("server"),
	}
}

// NewRouter returns the chi router serving /api/v1 and /metrics.
func NewRouter(cfg *config.Config, d Deps, log *zap.Logger) http.Handler {
	rs := handlers.NewResponder(log, !cfg.IsProduction())
	reportHandler := handlers.NewReportHandler(d.Reports, d.Exports, rs)
	uploadHandler := handlers.NewUploadHandler(d.Uploads, d.Status, d.Ingestor, rs, log)
	systemHandler := handlers.NewSystemHandler(cfg, d.Extractor, d.Ingestor, rs)
	authHandler := handlers.NewAuthHandler(d.Users, rs)
	guard := appMiddleware.JWT(cfg.JWTSecret, rs)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger(log))
	r.Use(appMiddleware.Metrics(d.Metrics))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Total-Rows"},
		AllowCredentials: true,
	}))

	r.NotFound(rs.NotFound)
	r.MethodNotAllowed(rs.MethodNotAllowed)

	r.Handle("/metrics", metrics.MetricsHandler())
	r.Get("/health", systemHandler.Health)

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(api chi.Router) {
			api.Use(middleware.Timeout(cfg.RequestTimeout))

			api.Get("/health", systemHandler.Health)
			api.Handle("/metrics", metrics.MetricsHandler())

			api.Post("/auth/signup", authHandler.Signup)
			api.Post("/auth/login", authHandler.Login)

			api.Get("/reports", reportHandler.List)
			api.Get("/reports/search/{query}", reportHandler.Search)
			api.Get("/reports/stats/overview", reportHandler.Stats)
			api.Get("/reports/export", reportHandler.Export)
			api.Get("/reports/semantic", reportHandler.Semantic)
			api.Get("/reports/{id}", reportHandler.Get)
			api.Get("/reports/{id}/download", reportHandler.Download)

			api.Get("/upload/status/{id}", uploadHandler.Status)

			api.Get("/system/config", systemHandler.Config)
			api.Get("/system/test/llm", systemHandler.TestLLM)
			api.Get("/system/models/available", systemHandler.AvailableModels)
			api.Get("/system/info", systemHandler.Info)
			api.Get("/system/queue", systemHandler.Queue)

			api.Group(func(protected chi.Router) {
				protected.Use(guard)
				protected.Post("/reports", reportHandler.Create)
				protected.Put("/reports/{id}", reportHandler.Update)
				protected.Delete("/reports/{id}", reportHandler.Delete)
				protected.Post("/upload", uploadHandler.Upload)
			})
		})

		// runs under INGEST_TIMEOUT, not REQUEST_TIMEOUT
		api.With(guard).Post("/upload/process/{id}", uploadHandler.Process)
	})

	return r
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("server.listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server.shutdown")
	return s.httpServer.Shutdown(ctx)
}
