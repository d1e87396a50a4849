package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
	"github.com/couchcryptid/naad-alert-ingest/internal/naad"
	"github.com/couchcryptid/naad-alert-ingest/internal/observability"
)

// HeartbeatHandler receives heartbeat documents that passed the identity check.
type HeartbeatHandler interface {
	HandleHeartbeat(ctx context.Context, origin naad.Origin, a *domain.Alert)
}

// Router dispatches framed documents: heartbeats to the heartbeat handler,
// everything else through the filter pipeline into the queue.
// It implements naad.DocumentHandler.
type Router struct {
	cache      *IdentityCache
	queue      *AlertQueue
	heartbeats HeartbeatHandler
	filter     domain.FilterConfig
	marker     string
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// RouterOptions configures a Router.
type RouterOptions struct {
	Cache           *IdentityCache
	Queue           *AlertQueue
	Heartbeats      HeartbeatHandler
	Filter          domain.FilterConfig
	HeartbeatMarker string
	Clock           clockwork.Clock
	Logger          *slog.Logger
	Metrics         *observability.Metrics
}

// NewRouter creates a Router. Cache and Queue are required.
func NewRouter(opts RouterOptions) *Router {
	r := &Router{
		cache:      opts.Cache,
		queue:      opts.Queue,
		heartbeats: opts.Heartbeats,
		filter:     opts.Filter,
		marker:     opts.HeartbeatMarker,
		clock:      opts.Clock,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
	if r.marker == "" {
		r.marker = domain.DefaultHeartbeatMarker
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = observability.NewMetricsForTesting()
	}
	return r
}

// HandleDocument routes one document received on a stream connection.
func (r *Router) HandleDocument(ctx context.Context, origin naad.Origin, doc []byte) {
	a, ok := r.parse(doc)
	if !ok {
		return
	}
	if a.Identifier == "" {
		r.discard("no_identifier", "document has no identifier")
		return
	}
	if !r.cache.Observe(a.Identifier) {
		r.discard("duplicate", "duplicate identifier", "identifier", a.Identifier)
		return
	}

	if domain.IsHeartbeat(a.Sender, r.marker) {
		if r.heartbeats != nil {
			r.heartbeats.HandleHeartbeat(ctx, origin, a)
		}
		return
	}

	r.accept(a, domain.SourceStream)
}

// RouteBackfill routes a document downloaded for a heartbeat reference. The
// heartbeat already recorded its identifier, so the identity check is skipped.
func (r *Router) RouteBackfill(_ context.Context, doc []byte) {
	a, ok := r.parse(doc)
	if !ok {
		return
	}
	r.accept(a, domain.SourceBackfill)
}

func (r *Router) parse(doc []byte) (*domain.Alert, bool) {
	a, err := domain.ParseAlert(doc)
	switch {
	case errors.Is(err, domain.ErrNotAlert):
		r.discard("not_alert", "document root is not an alert")
		return nil, false
	case err != nil:
		r.metrics.DocumentsDiscarded.WithLabelValues("parse").Inc()
		r.logger.Warn("discarding malformed document", "error", err, "bytes", len(doc))
		return nil, false
	}
	return a, true
}

func (r *Router) discard(reason, msg string, attrs ...any) {
	r.metrics.DocumentsDiscarded.WithLabelValues(reason).Inc()
	r.logger.Debug(msg, attrs...)
}

func (r *Router) accept(a *domain.Alert, source domain.Source) {
	rec, ok := convert(a, r.filter, r.clock.Now(), source, r.logger, r.metrics)
	if !ok {
		return
	}
	total := r.queue.Enqueue(rec)
	r.logger.Info("alert queued",
		"identifier", rec.Identifier,
		"source", source,
		"severity_color", rec.SeverityColor,
		"queued", total,
	)
}

// convert evaluates a against cfg and, if it passes, returns the record.
func convert(a *domain.Alert, cfg domain.FilterConfig, now time.Time, source domain.Source, logger *slog.Logger, metrics *observability.Metrics) (domain.AlertRecord, bool) {
	d := domain.Evaluate(a, cfg, now)
	if !d.Accepted {
		metrics.AlertsRejected.WithLabelValues(string(d.Stage)).Inc()
		logger.Debug("alert filtered",
			"identifier", a.Identifier,
			"stage", d.Stage,
			"reason", d.Reason,
		)
		return domain.AlertRecord{}, false
	}
	metrics.AlertsAccepted.WithLabelValues(string(source)).Inc()
	return domain.ToRecord(a, d, source), true
}
