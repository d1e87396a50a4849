package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
	"github.com/couchcryptid/naad-alert-ingest/internal/naad"
	"github.com/couchcryptid/naad-alert-ingest/internal/observability"
)

// StopTimeout bounds how long Run waits for stream managers and in-flight
// backfills after its context is cancelled.
const StopTimeout = 5 * time.Second

// Fetcher is the HTTP side of ingest: mirror backfill and feed pulls.
type Fetcher interface {
	ReferenceFetcher
	FeedFetcher
}

// Options configures a Service.
type Options struct {
	Enabled             bool
	FeedURLs            []string
	Filter              domain.FilterConfig
	HeartbeatMarker     string
	ReconnectDelay      time.Duration
	CacheCeiling        int
	MaxFrameBytes       int
	BackfillConcurrency int64

	Fetcher   Fetcher
	Dialer    naad.Dialer
	Publisher domain.EventPublisher
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// Service wires the stream managers, router, heartbeat monitor, backfill,
// queue and periodic fetcher together.
type Service struct {
	enabled  bool
	managers []*naad.Manager
	feeds    []string

	cache     *IdentityCache
	queue     *AlertQueue
	router    *Router
	monitor   *HeartbeatMonitor
	backfill  *Backfiller
	periodic  *PeriodicFetcher
	publisher domain.EventPublisher

	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	running atomic.Int32
}

// New builds a Service. Feed URLs are split by scheme: tcp:// URLs become
// stream connections and http(s):// URLs are pulled by FetchAlerts.
func New(opts Options) (*Service, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsForTesting()
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}

	streams, feeds, err := PartitionURLs(opts.FeedURLs)
	if err != nil {
		if opts.Enabled {
			return nil, err
		}
		opts.Logger.Warn("ignoring feed urls while ingest is disabled", "error", err)
		streams, feeds = nil, nil
	}
	if (len(streams) > 0 || len(feeds) > 0) && opts.Fetcher == nil {
		if opts.Enabled {
			return nil, errors.New("pipeline: fetcher is required when feeds are configured")
		}
		streams, feeds = nil, nil
	}

	s := &Service{
		enabled:   opts.Enabled,
		feeds:     feeds,
		publisher: opts.Publisher,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	s.cache = NewIdentityCache(opts.CacheCeiling, opts.Metrics)
	s.queue = NewAlertQueue(opts.Publisher, opts.Clock, opts.Metrics)

	var router *Router
	s.backfill = NewBackfiller(opts.Fetcher, func(ctx context.Context, doc []byte) {
		router.RouteBackfill(ctx, doc)
	}, opts.BackfillConcurrency, opts.Logger, opts.Metrics)
	s.monitor = NewHeartbeatMonitor(s.cache, s.backfill, opts.Publisher, opts.Clock, opts.Logger, opts.Metrics)
	router = NewRouter(RouterOptions{
		Cache:           s.cache,
		Queue:           s.queue,
		Heartbeats:      s.monitor,
		Filter:          opts.Filter,
		HeartbeatMarker: opts.HeartbeatMarker,
		Clock:           opts.Clock,
		Logger:          opts.Logger,
		Metrics:         opts.Metrics,
	})
	s.router = router
	s.periodic = NewPeriodicFetcher(opts.Fetcher, feeds, opts.Filter, s.queue, opts.Clock, opts.Logger, opts.Metrics)

	if !opts.Enabled {
		return s, nil
	}
	for _, u := range streams {
		m, err := naad.NewManager(u, naad.Options{
			Dialer:         opts.Dialer,
			Handler:        router,
			Publisher:      opts.Publisher,
			Clock:          opts.Clock,
			Logger:         opts.Logger,
			Metrics:        opts.Metrics,
			ReconnectDelay: opts.ReconnectDelay,
			MaxFrameBytes:  opts.MaxFrameBytes,
		})
		if err != nil {
			return nil, err
		}
		s.managers = append(s.managers, m)
	}
	return s, nil
}

// PartitionURLs splits configured URLs into stream (tcp) and feed (http, https) lists.
func PartitionURLs(urls []string) (streams, feeds []string, err error) {
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, perr := url.Parse(raw)
		if perr != nil {
			return nil, nil, fmt.Errorf("parse feed url %q: %w", raw, perr)
		}
		switch strings.ToLower(u.Scheme) {
		case "tcp":
			streams = append(streams, raw)
		case "http", "https":
			feeds = append(feeds, raw)
		default:
			return nil, nil, fmt.Errorf("feed url %q: unsupported scheme %q", raw, u.Scheme)
		}
	}
	return streams, feeds, nil
}

// Run starts one manager per stream URL and blocks until ctx is cancelled.
// After cancellation it waits up to StopTimeout for managers and backfills
// to finish. A disabled or stream-less service returns nil immediately.
func (s *Service) Run(ctx context.Context) error {
	if !s.enabled || len(s.managers) == 0 {
		s.logger.Info("stream ingest idle", "enabled", s.enabled, "streams", len(s.managers))
		return nil
	}

	s.logger.Info("stream ingest started", "streams", len(s.managers), "feeds", len(s.feeds))

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range s.managers {
		g.Go(func() error {
			s.running.Add(1)
			defer s.running.Add(-1)
			return m.Run(gctx)
		})
	}

	done := make(chan error, 1)
	go func() {
		err := g.Wait()
		s.backfill.Wait()
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	select {
	case err := <-done:
		s.logger.Info("stream ingest stopped")
		return err
	case <-s.clock.After(StopTimeout):
		return fmt.Errorf("stream ingest did not stop within %s", StopTimeout)
	}
}

// CheckReadiness returns nil when no streams are configured or at least one
// is connected.
func (s *Service) CheckReadiness(_ context.Context) error {
	if len(s.managers) == 0 {
		return nil
	}
	for _, m := range s.managers {
		if m.State().Status == domain.StatusConnected {
			return nil
		}
	}
	return errors.New("no stream connection is established")
}

// Health returns an operational snapshot.
func (s *Service) Health() domain.Health {
	h := domain.Health{
		Status:            domain.StatusDisconnected,
		Connections:       make([]domain.ConnectionState, 0, len(s.managers)),
		LastHeartbeat:     s.monitor.LastHeartbeat(),
		QueuedAlerts:      s.queue.Len(),
		CachedIdentifiers: s.cache.Len(),
		RunningStreams:    int(s.running.Load()),
	}
	for _, m := range s.managers {
		st := m.State()
		h.Connections = append(h.Connections, st)
		if st.Status > h.Status {
			h.Status = st.Status
		}
	}
	if !h.LastHeartbeat.IsZero() {
		h.SinceLastHeartbeat = s.clock.Since(h.LastHeartbeat)
		h.Healthy = h.Status == domain.StatusConnected && h.SinceLastHeartbeat <= domain.HeartbeatFreshness
	}
	return h
}

// PeekAlerts returns the queued alerts without removing them.
func (s *Service) PeekAlerts() []domain.AlertRecord {
	return s.queue.Peek()
}

// DrainAlerts removes and returns the queued alerts.
func (s *Service) DrainAlerts() []domain.AlertRecord {
	return s.queue.DrainAll()
}

// FetchAlerts pulls the HTTP feeds and merges in queued stream alerts.
func (s *Service) FetchAlerts(ctx context.Context, extraAreaFilters ...string) []domain.AlertRecord {
	return s.periodic.FetchAlerts(ctx, extraAreaFilters...)
}

// Router exposes the document router, e.g. for replaying captured streams.
func (s *Service) Router() *Router {
	return s.router
}
