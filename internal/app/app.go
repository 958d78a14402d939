// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/diagnovet/internal/config"
	"github.com/markdave123-py/diagnovet/internal/core"
	db "github.com/markdave123-py/diagnovet/internal/core/database"
	"github.com/markdave123-py/diagnovet/internal/core/ingestion_engine"
	"github.com/markdave123-py/diagnovet/internal/core/llm"
	objectclient "github.com/markdave123-py/diagnovet/internal/core/object-client"
	"github.com/markdave123-py/diagnovet/internal/services"
	"github.com/markdave123-py/diagnovet/pkg/metrics"
)

const serviceName = "diagnovet"

type App struct {
	DBClient     *db.DatabaseClient
	ObjectClient *objectclient.S3Client
	Extractor    llm.Extractor
	Ingestor     *ingestion_engine.DocumentIngestor
	StatsJob     *services.StatsJob
	Server       *Server

	embedder io.Closer
	cfg      *config.Config
	log      *zap.Logger
}

func NewApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	m := metrics.NewCollector(serviceName)

	dbClient, err := db.NewDatabaseClient(appCtx, cfg, log)
	if err != nil {
		return nil, err
	}
	log.Info("app.db.ready")

	objClient, err := objectclient.NewS3Client(appCtx, cfg.Storage, log)
	if err != nil {
		_ = dbClient.Close()
		return nil, err
	}
	log.Info("app.storage.ready", zap.String("bucket", cfg.Storage.Bucket))

	extractor, err := llm.NewExtractor(appCtx, llm.FactoryConfigFrom(cfg.LLM, m), log)
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("couldn't initialize the extractor: %w", err)
	}
	log.Info("app.extractor.ready", zap.String("provider", extractor.Provider()), zap.String("model", extractor.Model()))

	// semantic search is optional and only available with a Gemini key
	var embedder core.EmbeddingProvider
	var embedCloser io.Closer
	gem, err := llm.NewGeminiEmbedder(appCtx, cfg.LLM.GeminiAPIKey, cfg.LLM.EmbedModel)
	switch {
	case errors.Is(err, llm.ErrMissingCredential):
		log.Warn("app.embedder.disabled", zap.String("reason", "GEMINI_API_KEY not set"))
	case err != nil:
		_ = dbClient.Close()
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	default:
		embedder, embedCloser = gem, gem
	}

	documentExtractor := ingestion_engine.NewDocconvExtractor(false, log)
	ingestor := ingestion_engine.NewDocumentIngestor(
		dbClient, objClient, documentExtractor, extractor, embedder,
		ingestion_engine.IngestConfigFrom(cfg.Pipeline), m, log,
	)

	reports := services.NewReportService(dbClient, objClient, embedder, log)
	uploads := services.NewUploadService(dbClient, objClient, m, log)
	exports := services.NewExportService(dbClient, log)
	users := services.NewUserService(dbClient, cfg.JWTSecret)
	stats := services.NewStatsJob(dbClient, ingestor, m, cfg.Pipeline.StaleAfter, log)

	server := NewServer(cfg, Deps{
		Reports:   reports,
		Status:    reports,
		Uploads:   uploads,
		Exports:   exports,
		Users:     users,
		Ingestor:  ingestor,
		Extractor: extractor,
		Metrics:   m,
	}, log)

	return &App{
		DBClient:     dbClient,
		ObjectClient: objClient,
		Extractor:    extractor,
		Ingestor:     ingestor,
		StatsJob:     stats,
		Server:       server,
		embedder:     embedCloser,
		cfg:          cfg,
		log:          log,
	}, nil
}

// Start launches the extraction workers and the stats schedule. The HTTP
// server is started separately by the caller.
func (a *App) Start(ctx context.Context) error {
	a.Ingestor.Start(ctx)
	if n, err := a.Ingestor.RequeuePending(ctx); err != nil {
		a.log.Warn("app.requeue_failed", zap.Error(err))
	} else if n > 0 {
		a.log.Info("app.requeued_pending", zap.Int("count", n))
	}
	if err := a.StatsJob.Start(a.cfg.StatsCron); err != nil {
		return fmt.Errorf("stats job: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, drains queued extractions and stops the
// scheduler before releasing clients.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	a.StatsJob.Stop(ctx)
	if err := a.Ingestor.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("ingestor: %w", err))
	}
	a.Close()
	return errors.Join(errs...)
}

func (a *App) Close() {
	if c, ok := a.Extractor.(io.Closer); ok {
		_ = c.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
