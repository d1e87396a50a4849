package pipeline

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
	"github.com/couchcryptid/naad-alert-ingest/internal/observability"
)

// FeedFetcher retrieves a feed document, either raw CAP or an Atom wrapper.
type FeedFetcher interface {
	FetchFeed(ctx context.Context, url string) ([]byte, error)
}

// PeriodicFetcher pulls the configured HTTP feeds on demand and merges the
// result with alerts queued from the streams.
type PeriodicFetcher struct {
	fetcher FeedFetcher
	urls    []string
	filter  domain.FilterConfig
	queue   *AlertQueue
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPeriodicFetcher creates a PeriodicFetcher for the given feed URLs.
func NewPeriodicFetcher(fetcher FeedFetcher, urls []string, filter domain.FilterConfig, queue *AlertQueue, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *PeriodicFetcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &PeriodicFetcher{
		fetcher: fetcher,
		urls:    urls,
		filter:  filter,
		queue:   queue,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// FetchAlerts fetches every feed, filters with the configured policy plus
// extraAreaFilters, appends the drained stream queue and removes content
// duplicates. The first occurrence of each (location, title, summary) wins.
// Feed failures are logged and skipped.
func (p *PeriodicFetcher) FetchAlerts(ctx context.Context, extraAreaFilters ...string) []domain.AlertRecord {
	start := p.clock.Now()
	defer func() {
		p.metrics.FeedFetchDuration.Observe(p.clock.Since(start).Seconds())
	}()

	cfg := p.filter.WithAreaFilters(extraAreaFilters...)

	var out []domain.AlertRecord
	for _, url := range p.urls {
		if ctx.Err() != nil {
			break
		}
		out = append(out, p.fetchOne(ctx, url, cfg)...)
	}

	if p.queue != nil {
		out = append(out, p.queue.DrainAll()...)
	}
	return Dedup(out)
}

func (p *PeriodicFetcher) fetchOne(ctx context.Context, url string, cfg domain.FilterConfig) []domain.AlertRecord {
	body, err := p.fetcher.FetchFeed(ctx, url)
	if err != nil {
		p.logger.Warn("feed fetch failed", "url", url, "error", err)
		return nil
	}

	alerts, err := domain.ExtractAlerts(body)
	if err != nil {
		p.logger.Warn("feed partially parsed", "url", url, "alerts", len(alerts), "error", err)
	}

	now := p.clock.Now()
	var out []domain.AlertRecord
	for _, a := range alerts {
		if rec, ok := convert(a, cfg, now, domain.SourceFeed, p.logger, p.metrics); ok {
			out = append(out, rec)
		}
	}
	p.logger.Debug("feed fetched", "url", url, "alerts", len(alerts), "accepted", len(out))
	return out
}

// Dedup removes records whose DedupKey was already seen, preserving order.
func Dedup(records []domain.AlertRecord) []domain.AlertRecord {
	seen := make(map[string]struct{}, len(records))
	out := make([]domain.AlertRecord, 0, len(records))
	for _, r := range records {
		key := r.DedupKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
