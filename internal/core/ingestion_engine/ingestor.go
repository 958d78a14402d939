package ingestion_engine

import "context"

type Ingestor interface {
	Start(ctx context.Context)
	Enqueue(ctx context.Context, reportID string) error
	RequeuePending(ctx context.Context) (int, error)
	ProcessOne(ctx context.Context, reportID string) (*Outcome, error)
	Reprocess(ctx context.Context, reportID string) (*Outcome, error)
	Shutdown(ctx context.Context) error
	QueueStats() QueueStats
}

var _ Ingestor = (*DocumentIngestor)(nil)
