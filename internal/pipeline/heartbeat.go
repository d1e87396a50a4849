package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
	"github.com/couchcryptid/naad-alert-ingest/internal/naad"
	"github.com/couchcryptid/naad-alert-ingest/internal/observability"
)

// BackfillStarter begins an asynchronous download of a referenced alert.
type BackfillStarter interface {
	Start(ctx context.Context, ref domain.Reference)
}

// HeartbeatMonitor records liveness and starts backfills for references
// that have not been seen yet.
type HeartbeatMonitor struct {
	cache     *IdentityCache
	backfill  BackfillStarter
	publisher domain.EventPublisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu   sync.RWMutex
	last time.Time
}

// NewHeartbeatMonitor creates a HeartbeatMonitor.
func NewHeartbeatMonitor(cache *IdentityCache, backfill BackfillStarter, publisher domain.EventPublisher, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *HeartbeatMonitor {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &HeartbeatMonitor{
		cache:     cache,
		backfill:  backfill,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// HandleHeartbeat implements HeartbeatHandler. It returns without waiting
// for any backfill it starts.
func (h *HeartbeatMonitor) HandleHeartbeat(ctx context.Context, origin naad.Origin, a *domain.Alert) {
	now := h.clock.Now()
	h.mu.Lock()
	h.last = now
	h.mu.Unlock()
	if origin != nil {
		origin.RecordHeartbeat(now)
	}

	refs := domain.ParseReferences(a.References)
	h.metrics.HeartbeatsTotal.Inc()
	h.publisher.Publish(domain.Event{
		Kind:      domain.EventHeartbeat,
		Time:      now,
		Heartbeat: &domain.HeartbeatInfo{Timestamp: now, References: len(refs)},
	})

	started := 0
	for _, ref := range refs {
		if !h.cache.Observe(ref.Identifier) {
			h.metrics.BackfillRequests.WithLabelValues("skipped").Inc()
			continue
		}
		if h.backfill != nil {
			h.backfill.Start(ctx, ref)
			started++
		}
	}
	h.logger.Debug("heartbeat received", "references", len(refs), "backfills", started)
}

// LastHeartbeat returns when the most recent heartbeat arrived on any stream,
// or the zero time if none has.
func (h *HeartbeatMonitor) LastHeartbeat() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}
