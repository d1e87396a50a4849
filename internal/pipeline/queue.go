package pipeline

import (
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
	"github.com/couchcryptid/naad-alert-ingest/internal/observability"
)

// AlertQueue holds converted alerts until a consumer drains them. Producers
// never block.
type AlertQueue struct {
	mu        sync.Mutex
	items     []domain.AlertRecord
	publisher domain.EventPublisher
	clock     clockwork.Clock
	metrics   *observability.Metrics
}

// NewAlertQueue creates an empty queue that announces each enqueued alert on publisher.
func NewAlertQueue(publisher domain.EventPublisher, clock clockwork.Clock, metrics *observability.Metrics) *AlertQueue {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &AlertQueue{publisher: publisher, clock: clock, metrics: metrics}
}

// Enqueue appends r and returns the number of alerts now queued.
func (q *AlertQueue) Enqueue(r domain.AlertRecord) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, r)
	total := len(q.items)
	q.metrics.QueueDepth.Set(float64(total))
	q.metrics.AlertsQueued.WithLabelValues(string(r.Source)).Inc()

	// Published under the lock so event order matches queue order.
	q.publisher.Publish(domain.Event{
		Kind:        domain.EventAlert,
		Time:        q.clock.Now(),
		Alert:       &r,
		QueuedTotal: total,
	})
	return total
}

// DrainAll removes and returns every queued alert in arrival order.
func (q *AlertQueue) DrainAll() []domain.AlertRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	q.metrics.QueueDepth.Set(0)
	return out
}

// Peek returns a copy of the queued alerts without removing them.
func (q *AlertQueue) Peek() []domain.AlertRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// Len returns the number of queued alerts.
func (q *AlertQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.Event) {}
