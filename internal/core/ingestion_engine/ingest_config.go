package ingestion_engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/diagnovet/internal/config"
	"github.com/markdave123-py/diagnovet/internal/core"
	"github.com/markdave123-py/diagnovet/internal/core/llm"
	"github.com/markdave123-py/diagnovet/pkg/metrics"
)

// IngestConfig tunes the extraction pipeline.
//
// Workers:             goroutines reading the job queue.
// QueueSize:           capacity of the in-memory job queue.
// Timeout:             upper bound for one report's extraction.
// StaleAfter:          a PROCESSING claim older than this may be taken over.
// PendingAfter:        an UPLOADED report older than this with no queued job is queued again.
// ConfidenceThreshold: confidence strictly above it completes the report, otherwise it needs review.
// EmbedTokens:         token budget of the text embedded for semantic search.
type IngestConfig struct {
	Workers             int
	QueueSize           int
	Timeout             time.Duration
	StaleAfter          time.Duration
	PendingAfter        time.Duration
	ConfidenceThreshold float64
	EmbedTokens         int
}

// IngestConfigFrom maps the pipeline section of the process configuration.
func IngestConfigFrom(c config.PipelineConfig) IngestConfig {
	return IngestConfig{
		Workers:             c.Workers,
		QueueSize:           c.QueueSize,
		Timeout:             c.Timeout,
		StaleAfter:          c.StaleAfter,
		PendingAfter:        c.PendingAfter,
		ConfidenceThreshold: c.ConfidenceThreshold,
	}
}

func (c *IngestConfig) withDefaults() {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.QueueSize < 1 {
		c.QueueSize = 64
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	if c.PendingAfter <= 0 {
		c.PendingAfter = 2 * time.Minute
	}
	if c.EmbedTokens <= 0 {
		c.EmbedTokens = 2000
	}
}

// RecordExtractor turns report text into a structured record.
type RecordExtractor interface {
	Extract(ctx context.Context, text string) (*llm.Result, error)
}

// DocumentIngestor runs background extraction for uploaded reports:
//
// db:        report persistence and the PROCESSING claim.
// obj:       object storage holding the uploaded file.
// text:      PDF text layer extraction.
// records:   structured extraction strategy (hosted LLM or regex).
// embedder:  optional; when set, completed reports are indexed for semantic search.
// jobs:      in-memory queue of report ids.
// queued:    ids sitting in jobs, so a report is never queued twice.
// stopping:  closed by Shutdown to release senders blocked on a full queue.
type DocumentIngestor struct {
	db       core.ReportStore
	obj      core.ObjectClient
	text     core.TextExtractor
	records  RecordExtractor
	embedder core.EmbeddingProvider
	cfg      IngestConfig
	metrics  *metrics.Collector
	log      *zap.Logger
	now      func() time.Time

	jobs      chan string
	queued    map[string]struct{}
	stopping  chan struct{}
	wg        sync.WaitGroup
	senders   sync.WaitGroup
	mu        sync.Mutex
	closed    bool
	closeJobs sync.Once
	base      context.Context
	cancel    context.CancelFunc
}

// QueueStats is the queue snapshot served by the system endpoints.
type QueueStats struct {
	Length   int `json:"length"`
	Capacity int `json:"capacity"`
	Workers  int `json:"workers"`
}
