package pipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
	"github.com/couchcryptid/naad-alert-ingest/internal/pipeline"
)

type recordingBackfill struct {
	mu   sync.Mutex
	refs []domain.Reference
}

func (b *recordingBackfill) Start(_ context.Context, ref domain.Reference) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs = append(b.refs, ref)
}

type stampOrigin struct {
	at time.Time
}

func (o *stampOrigin) Name() string                 { return "stream.test:8080" }
func (o *stampOrigin) RecordHeartbeat(at time.Time) { o.at = at }

func TestHeartbeatMonitor_BackfillsUnseenReferences(t *testing.T) {
	cache := pipeline.NewIdentityCache(100, newTestMetrics())
	cache.Observe("id2")
	backfill := &recordingBackfill{}
	pub := &recordingPublisher{}
	clk := clockwork.NewFakeClockAt(testNow)
	m := pipeline.NewHeartbeatMonitor(cache, backfill, pub, clk, discardLogger(), newTestMetrics())
	origin := &stampOrigin{}

	m.HandleHeartbeat(context.Background(), origin, &domain.Alert{
		References: "A,id1,2026-01-01T00:00:00Z B,id2,2026-01-01T00:05:00Z",
	})

	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventHeartbeat, events[0].Kind)
	assert.Equal(t, 2, events[0].Heartbeat.References)
	assert.Equal(t, testNow, events[0].Heartbeat.Timestamp)

	require.Len(t, backfill.refs, 1, "id2 was already cached")
	assert.Equal(t, domain.Reference{Sender: "A", Identifier: "id1", Sent: "2026-01-01T00:00:00Z"}, backfill.refs[0])
	assert.True(t, cache.Contains("id1"))

	assert.Equal(t, testNow, m.LastHeartbeat())
	assert.Equal(t, testNow, origin.at)
}

func TestHeartbeatMonitor_RepeatedReferencesFetchedOnce(t *testing.T) {
	cache := pipeline.NewIdentityCache(100, newTestMetrics())
	backfill := &recordingBackfill{}
	m := pipeline.NewHeartbeatMonitor(cache, backfill, nil, clockwork.NewFakeClock(), discardLogger(), newTestMetrics())

	hb := &domain.Alert{References: "A,id1,2026-01-01T00:00:00Z"}
	m.HandleHeartbeat(context.Background(), nil, hb)
	m.HandleHeartbeat(context.Background(), nil, hb)

	assert.Len(t, backfill.refs, 1)
}

func TestHeartbeatMonitor_EmptyReferencesStillEmits(t *testing.T) {
	pub := &recordingPublisher{}
	backfill := &recordingBackfill{}
	m := pipeline.NewHeartbeatMonitor(pipeline.NewIdentityCache(10, nil), backfill, pub, clockwork.NewFakeClock(), discardLogger(), nil)

	m.HandleHeartbeat(context.Background(), nil, &domain.Alert{})

	events := pub.Events()
	require.Len(t, events, 1)
	assert.Zero(t, events[0].Heartbeat.References)
	assert.Empty(t, backfill.refs)
}

func TestHeartbeatMonitor_ZeroBeforeFirstHeartbeat(t *testing.T) {
	m := pipeline.NewHeartbeatMonitor(pipeline.NewIdentityCache(10, nil), nil, nil, nil, nil, nil)
	assert.True(t, m.LastHeartbeat().IsZero())
}
