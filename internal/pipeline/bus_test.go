package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
	"github.com/couchcryptid/naad-alert-ingest/internal/pipeline"
)

type collector struct {
	mu     sync.Mutex
	totals []int
}

func (c *collector) add(e domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals = append(c.totals, e.QueuedTotal)
}

func (c *collector) snapshot() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.totals...)
}

func TestBus_EverySubscriberSeesEveryEventInOrder(t *testing.T) {
	bus := pipeline.NewBus()
	fast, slow := &collector{}, &collector{}
	bus.Subscribe(fast.add)
	bus.Subscribe(func(e domain.Event) {
		time.Sleep(time.Millisecond)
		slow.add(e)
	})

	want := make([]int, 50)
	for i := range want {
		want[i] = i + 1
		bus.Publish(domain.Event{Kind: domain.EventAlert, QueuedTotal: i + 1})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bus.Close(ctx))

	assert.Equal(t, want, fast.snapshot())
	assert.Equal(t, want, slow.snapshot())
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	bus := pipeline.NewBus()
	c := &collector{}
	bus.Subscribe(c.add)
	require.NoError(t, bus.Close(context.Background()))

	bus.Publish(domain.Event{QueuedTotal: 1})
	bus.Subscribe(c.add)
	assert.Empty(t, c.snapshot())
}

func TestBus_CloseHonoursContext(t *testing.T) {
	bus := pipeline.NewBus()
	release := make(chan struct{})
	bus.Subscribe(func(domain.Event) { <-release })
	bus.Publish(domain.Event{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Close(ctx), context.DeadlineExceeded)
	close(release)
}

type stubSink struct {
	err  error
	sent []domain.Event
}

func (s *stubSink) Name() string { return "stub" }

func (s *stubSink) Send(ctx context.Context, e domain.Event) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("missing deadline")
	}
	s.sent = append(s.sent, e)
	return s.err
}

func TestSinkSubscriber_CountsOutcomes(t *testing.T) {
	metrics := newTestMetrics()

	ok := &stubSink{}
	pipeline.SinkSubscriber(context.Background(), ok, time.Second, discardLogger(), metrics)(domain.Event{Kind: domain.EventHeartbeat})
	assert.Len(t, ok.sent, 1)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SinkEvents.WithLabelValues("stub", "success")), 0)

	failing := &stubSink{err: errors.New("broker down")}
	pipeline.SinkSubscriber(context.Background(), failing, time.Second, discardLogger(), metrics)(domain.Event{})
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SinkEvents.WithLabelValues("stub", "error")), 0)
}
