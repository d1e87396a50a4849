package naad

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
	"github.com/couchcryptid/naad-alert-ingest/internal/observability"
)

const (
	defaultReconnectDelay = 30 * time.Second
	defaultIdleWait       = 250 * time.Millisecond
	defaultKeepAlive      = 30 * time.Second
	readBufferSize        = 32 * 1024
)

// Dialer opens stream sockets. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Origin identifies the connection a document arrived on and lets the
// heartbeat path stamp that connection's state.
type Origin interface {
	Name() string
	RecordHeartbeat(at time.Time)
}

// DocumentHandler receives each framed document. It is called synchronously
// from the read loop, so it should hand off anything slow.
type DocumentHandler interface {
	HandleDocument(ctx context.Context, origin Origin, doc []byte)
}

// Options configures a Manager. Zero values fall back to package defaults.
type Options struct {
	Dialer         Dialer
	Handler        DocumentHandler
	Publisher      domain.EventPublisher
	Clock          clockwork.Clock
	Logger         *slog.Logger
	Metrics        *observability.Metrics
	ReconnectDelay time.Duration
	MaxFrameBytes  int
	IdleWait       time.Duration
}

// Manager owns the socket lifecycle for a single stream URL.
type Manager struct {
	name           string
	addr           string
	dialer         Dialer
	handler        DocumentHandler
	publisher      domain.EventPublisher
	clock          clockwork.Clock
	logger         *slog.Logger
	metrics        *observability.Metrics
	reconnectDelay time.Duration
	maxFrameBytes  int
	idleWait       time.Duration

	mu    sync.RWMutex
	state domain.ConnectionState
}

// NewManager parses a tcp://host:port URL and returns a Manager for it.
func NewManager(rawURL string, opts Options) (*Manager, error) {
	host, port, err := ParseStreamURL(rawURL)
	if err != nil {
		return nil, err
	}
	if opts.Handler == nil {
		return nil, errors.New("naad: document handler is required")
	}

	m := &Manager{
		name:           net.JoinHostPort(host, strconv.Itoa(port)),
		dialer:         opts.Dialer,
		handler:        opts.Handler,
		publisher:      opts.Publisher,
		clock:          opts.Clock,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		reconnectDelay: opts.ReconnectDelay,
		maxFrameBytes:  opts.MaxFrameBytes,
		idleWait:       opts.IdleWait,
		state: domain.ConnectionState{
			Host:   host,
			Port:   port,
			Status: domain.StatusDisconnected,
		},
	}
	m.addr = m.name
	if m.dialer == nil {
		m.dialer = &net.Dialer{KeepAlive: defaultKeepAlive}
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.metrics == nil {
		m.metrics = observability.NewMetricsForTesting()
	}
	if m.reconnectDelay <= 0 {
		m.reconnectDelay = defaultReconnectDelay
	}
	if m.idleWait <= 0 {
		m.idleWait = defaultIdleWait
	}
	m.logger = m.logger.With("stream", m.name)
	return m, nil
}

// ParseStreamURL extracts host and port from a tcp:// URL.
func ParseStreamURL(rawURL string) (string, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, fmt.Errorf("parse stream url %q: %w", rawURL, err)
	}
	if u.Scheme != "tcp" {
		return "", 0, fmt.Errorf("stream url %q: scheme must be tcp", rawURL)
	}
	host := u.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("stream url %q: missing host", rawURL)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("stream url %q: invalid port", rawURL)
	}
	return host, port, nil
}

// Name is the host:port the manager connects to.
func (m *Manager) Name() string {
	return m.name
}

// State returns a copy of the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// RecordHeartbeat stamps the time of the most recent heartbeat on this connection.
func (m *Manager) RecordHeartbeat(at time.Time) {
	m.mu.Lock()
	m.state.LastHeartbeat = at
	m.mu.Unlock()
}

// Run connects, reads and reconnects until ctx is cancelled. It always
// returns nil; connection failures are reported through status events.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("stream manager started", "reconnect_delay", m.reconnectDelay)

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			break
		}
		if attempt > 0 {
			m.metrics.Reconnects.WithLabelValues(m.name).Inc()
		}

		err := m.session(ctx)
		if ctx.Err() != nil {
			break
		}

		msg := "connection closed"
		if err != nil {
			msg = err.Error()
		}
		m.setStatus(domain.StatusDisconnected, msg)
		m.logger.Warn("stream disconnected, waiting to reconnect", "error", err, "delay", m.reconnectDelay)

		select {
		case <-ctx.Done():
		case <-m.clock.After(m.reconnectDelay):
		}
	}

	m.setStatus(domain.StatusDisconnected, "shutdown")
	m.logger.Info("stream manager stopped")
	return nil
}

// session runs one connect-and-read cycle. It returns when the socket fails,
// the peer closes it, or ctx is cancelled.
func (m *Manager) session(ctx context.Context) error {
	m.setStatus(domain.StatusConnecting, "connecting to "+m.addr)

	conn, err := m.dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.addr, err)
	}
	// Reads carry no deadline; cancellation unblocks them by closing the socket.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		conn.Close()
	}()

	m.setStatus(domain.StatusConnected, "connected to "+m.addr)
	m.logger.Info("stream connected")

	framer := NewFramer(m.maxFrameBytes)
	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := conn.Read(buf)
		if n > 0 {
			docs, ferr := framer.Append(buf[:n])
			for _, doc := range docs {
				m.metrics.FramesTotal.WithLabelValues(m.name).Inc()
				m.handler.HandleDocument(ctx, m, doc)
			}
			if ferr != nil {
				return ferr
			}
		}

		switch {
		case errors.Is(err, io.EOF):
			return errors.New("stream closed by peer")
		case err != nil:
			return fmt.Errorf("read %s: %w", m.addr, err)
		case n == 0:
			if !retry.SleepWithContext(ctx, m.idleWait) {
				return ctx.Err()
			}
		}
	}
}

func (m *Manager) setStatus(status domain.ConnectionStatus, message string) {
	m.mu.Lock()
	m.state.Status = status
	m.state.Message = message
	host, port := m.state.Host, m.state.Port
	m.mu.Unlock()

	m.metrics.ConnectionStatus.WithLabelValues(m.name).Set(float64(status))

	if m.publisher == nil {
		return
	}
	m.publisher.Publish(domain.Event{
		Kind: domain.EventStatus,
		Time: m.clock.Now(),
		Status: &domain.StatusChange{
			Status:  status,
			Host:    host,
			Port:    port,
			Message: message,
		},
	})
}
