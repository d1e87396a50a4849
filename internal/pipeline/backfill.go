package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
	"github.com/couchcryptid/naad-alert-ingest/internal/observability"
)

// DefaultBackfillConcurrency caps simultaneous backfill downloads when unset.
const DefaultBackfillConcurrency = 4

// ReferenceFetcher downloads the document a heartbeat reference points at.
type ReferenceFetcher interface {
	FetchReference(ctx context.Context, ref domain.Reference) ([]byte, error)
}

// Backfiller downloads referenced alerts in the background and hands each
// document to deliver. At most limit downloads run at once; the rest wait.
type Backfiller struct {
	fetcher ReferenceFetcher
	deliver func(ctx context.Context, doc []byte)
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewBackfiller creates a Backfiller.
func NewBackfiller(fetcher ReferenceFetcher, deliver func(ctx context.Context, doc []byte), limit int64, logger *slog.Logger, metrics *observability.Metrics) *Backfiller {
	if limit <= 0 {
		limit = DefaultBackfillConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &Backfiller{
		fetcher: fetcher,
		deliver: deliver,
		sem:     semaphore.NewWeighted(limit),
		logger:  logger,
		metrics: metrics,
	}
}

// Start implements BackfillStarter. Failure to fetch from every mirror is
// logged and otherwise ignored.
func (b *Backfiller) Start(ctx context.Context, ref domain.Reference) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer b.sem.Release(1)

		doc, err := b.fetcher.FetchReference(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.metrics.BackfillRequests.WithLabelValues("failed").Inc()
			b.logger.Warn("backfill failed",
				"identifier", ref.Identifier,
				"sent", ref.Sent,
				"error", err,
			)
			return
		}

		b.metrics.BackfillRequests.WithLabelValues("success").Inc()
		b.logger.Debug("backfill fetched", "identifier", ref.Identifier, "bytes", len(doc))
		b.deliver(ctx, doc)
	}()
}

// Wait blocks until every started backfill has finished.
func (b *Backfiller) Wait() {
	b.wg.Wait()
}
