package pipeline_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
	"github.com/couchcryptid/naad-alert-ingest/internal/pipeline"
)

// pipeDialer hands out the client end of a net.Pipe per dial and keeps the
// server ends for the test to write to.
type pipeDialer struct {
	mu      sync.Mutex
	servers chan net.Conn
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{servers: make(chan net.Conn, 4)}
}

func (d *pipeDialer) DialContext(_ context.Context, _, _ string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	server, client := net.Pipe()
	d.servers <- server
	return client, nil
}

func (d *pipeDialer) nextServer(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-d.servers:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection was dialled")
		return nil
	}
}

type failingDialer struct{}

func (failingDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	return nil, errors.New("connection refused")
}

func newService(t *testing.T, opts pipeline.Options) *pipeline.Service {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = newTestMetrics()
	}
	s, err := pipeline.New(opts)
	require.NoError(t, err)
	return s
}

func runService(t *testing.T, s *pipeline.Service) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return cancel, done
}

func TestService_StreamToQueueAndBackfill(t *testing.T) {
	dialer := newPipeDialer()
	fetcher := &fakeFetcher{docs: map[string]string{"ref-1": capAlert("ref-1", "Safety")}}
	pub := &recordingPublisher{}
	clk := clockwork.NewFakeClockAt(testNow)

	s := newService(t, pipeline.Options{
		Enabled:   true,
		FeedURLs:  []string{"tcp://streaming1.example.test:8080"},
		Filter:    strictFilter(),
		Fetcher:   fetcher,
		Dialer:    dialer,
		Publisher: pub,
		Clock:     clk,
	})
	cancel, done := runService(t, s)
	defer cancel()

	server := dialer.nextServer(t)
	require.Eventually(t, func() bool { return s.CheckReadiness(context.Background()) == nil }, 2*time.Second, 5*time.Millisecond)

	stream := capAlert("live-1", "Safety") + heartbeatDoc("hb-1", "sq@surete.qc.ca,ref-1,2026-03-04T15:40:00-00:00")
	go func() { _, _ = server.Write([]byte(stream)) }()

	require.Eventually(t, func() bool { return len(s.PeekAlerts()) == 2 }, 2*time.Second, 5*time.Millisecond)

	sources := map[domain.Source]int{}
	for _, r := range s.PeekAlerts() {
		sources[r.Source]++
	}
	assert.Equal(t, map[domain.Source]int{domain.SourceStream: 1, domain.SourceBackfill: 1}, sources)

	h := s.Health()
	assert.Equal(t, domain.StatusConnected, h.Status)
	assert.Equal(t, testNow, h.LastHeartbeat)
	assert.True(t, h.Healthy)
	assert.Equal(t, 2, h.QueuedAlerts)
	assert.Equal(t, 3, h.CachedIdentifiers, "live-1, hb-1 and ref-1")
	assert.Equal(t, 1, h.RunningStreams)
	require.Len(t, h.Connections, 1)
	assert.Equal(t, "streaming1.example.test", h.Connections[0].Host)
	assert.Equal(t, testNow, h.Connections[0].LastHeartbeat)

	clk.Advance(domain.HeartbeatFreshness + time.Second)
	assert.False(t, s.Health().Healthy, "stale heartbeat")

	drained := s.DrainAlerts()
	assert.Len(t, drained, 2)
	assert.Empty(t, s.PeekAlerts())

	assert.Contains(t, pub.Kinds(), domain.EventHeartbeat)
	assert.Contains(t, pub.Kinds(), domain.EventAlert)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.Zero(t, s.Health().RunningStreams)
	assert.Equal(t, domain.StatusDisconnected, s.Health().Status)
}

func TestService_NotReadyWhileDisconnected(t *testing.T) {
	s := newService(t, pipeline.Options{
		Enabled:  true,
		FeedURLs: []string{"tcp://streaming1.example.test:8080"},
		Fetcher:  &fakeFetcher{},
		Dialer:   failingDialer{},
		Clock:    clockwork.NewFakeClock(),
	})
	cancel, done := runService(t, s)

	require.Eventually(t, func() bool {
		return s.Health().Connections[0].Message == "dial streaming1.example.test:8080: connection refused"
	}, 2*time.Second, 5*time.Millisecond)
	require.Error(t, s.CheckReadiness(context.Background()))
	assert.False(t, s.Health().Healthy)

	cancel()
	require.NoError(t, <-done)
}

func TestService_DisabledIsNoop(t *testing.T) {
	s := newService(t, pipeline.Options{
		Enabled:  false,
		FeedURLs: []string{"tcp://streaming1.example.test:8080"},
		Fetcher:  &fakeFetcher{},
	})

	require.NoError(t, s.Run(context.Background()))
	require.NoError(t, s.CheckReadiness(context.Background()))
	h := s.Health()
	assert.Equal(t, domain.StatusDisconnected, h.Status)
	assert.Empty(t, h.Connections)
}

func TestService_NoFeedsConfigured(t *testing.T) {
	s := newService(t, pipeline.Options{Enabled: true})

	require.NoError(t, s.Run(context.Background()))
	assert.Empty(t, s.FetchAlerts(context.Background()))
}

func TestService_FetchAlertsUsesHTTPFeeds(t *testing.T) {
	fetcher := &fakeFetcher{feeds: map[string]string{feedA: capAlert("feed-1", "Safety")}}
	s := newService(t, pipeline.Options{
		Enabled:  true,
		FeedURLs: []string{feedA},
		Filter:   strictFilter(),
		Fetcher:  fetcher,
		Clock:    clockwork.NewFakeClockAt(testNow),
	})

	got := s.FetchAlerts(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, domain.SourceFeed, got[0].Source)
}

func TestNew_RequiresFetcherForFeeds(t *testing.T) {
	_, err := pipeline.New(pipeline.Options{Enabled: true, FeedURLs: []string{feedA}})
	require.Error(t, err)
}

func TestNew_DisabledToleratesBadFeedConfig(t *testing.T) {
	s, err := pipeline.New(pipeline.Options{
		Enabled:  false,
		FeedURLs: []string{"ftp://stale.example.test/cap", feedA},
		Logger:   discardLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))
	assert.Empty(t, s.FetchAlerts(context.Background()))

	_, err = pipeline.New(pipeline.Options{Enabled: true, FeedURLs: []string{"ftp://stale.example.test/cap"}, Fetcher: &fakeFetcher{}})
	require.Error(t, err)
}

func TestPartitionURLs(t *testing.T) {
	streams, feeds, err := pipeline.PartitionURLs([]string{
		"tcp://streaming1.naad-adna.pelmorex.com:8080",
		" https://example.test/cap.xml ",
		"",
		"http://example.test/feed",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tcp://streaming1.naad-adna.pelmorex.com:8080"}, streams)
	assert.Equal(t, []string{"https://example.test/cap.xml", "http://example.test/feed"}, feeds)

	_, _, err = pipeline.PartitionURLs([]string{"ftp://example.test"})
	assert.Error(t, err)
}
