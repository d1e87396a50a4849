package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
	"github.com/couchcryptid/naad-alert-ingest/internal/observability"
)

// Bus fans events out to subscribers. Every subscriber sees every event
// published after it subscribed, in publish order. Each subscriber has its
// own unbounded backlog and goroutine, so Publish never blocks and a slow
// subscriber only delays itself.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscription
	closed bool
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

type subscription struct {
	mu      sync.Mutex
	pending []domain.Event
	closed  bool
	signal  chan struct{}
	done    chan struct{}
}

// Subscribe registers fn. It is called from a dedicated goroutine, one event
// at a time.
func (b *Bus) Subscribe(fn func(domain.Event)) {
	s := &subscription{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.run(fn)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.close()
		return
	}
	b.subs = append(b.subs, s)
}

// Publish queues e for every subscriber.
func (b *Bus) Publish(e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.push(e)
	}
}

// Close stops accepting events and waits until subscribers have processed
// their backlog or ctx expires.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	for _, s := range subs {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *subscription) push(e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, e)
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.signal)
}

func (s *subscription) run(fn func(domain.Event)) {
	defer close(s.done)
	for range s.signal {
		for {
			s.mu.Lock()
			batch := s.pending
			s.pending = nil
			s.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, e := range batch {
				fn(e)
			}
		}
	}
}

// EventSink is an external destination for events.
type EventSink interface {
	Name() string
	Send(ctx context.Context, e domain.Event) error
}

// SinkSubscriber adapts sink for Bus.Subscribe. Each delivery gets its own
// timeout derived from ctx; failures are logged and counted, never retried.
func SinkSubscriber(ctx context.Context, sink EventSink, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) func(domain.Event) {
	return func(e domain.Event) {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		if err := sink.Send(sendCtx, e); err != nil {
			logger.Warn("event sink delivery failed", "sink", sink.Name(), "kind", e.Kind, "error", err)
			metrics.SinkEvents.WithLabelValues(sink.Name(), "error").Inc()
			return
		}
		metrics.SinkEvents.WithLabelValues(sink.Name(), "success").Inc()
	}
}
