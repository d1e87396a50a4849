package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// HeartbeatFreshness is how recent the last heartbeat must be for the feed to
// be considered healthy.
const HeartbeatFreshness = 2 * time.Minute

// ConnectionStatus is the lifecycle state of a stream connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

func (s ConnectionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ConnectionStatus) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "Connecting":
		*s = StatusConnecting
	case "Connected":
		*s = StatusConnected
	case "Disconnected":
		*s = StatusDisconnected
	default:
		return fmt.Errorf("unknown connection status %q", name)
	}
	return nil
}

// ConnectionState is the observable state of one stream connection.
type ConnectionState struct {
	Host          string           `json:"host"`
	Port          int              `json:"port"`
	Status        ConnectionStatus `json:"status"`
	LastHeartbeat time.Time        `json:"last_heartbeat"`
	Message       string           `json:"message,omitempty"`
}

// EventKind discriminates Event payloads.
type EventKind string

const (
	EventStatus    EventKind = "status"
	EventHeartbeat EventKind = "heartbeat"
	EventAlert     EventKind = "alert"
)

// Event is emitted to subscribers. Exactly one payload pointer is set, matching Kind.
type Event struct {
	Kind        EventKind      `json:"kind"`
	Time        time.Time      `json:"time"`
	Status      *StatusChange  `json:"status,omitempty"`
	Heartbeat   *HeartbeatInfo `json:"heartbeat,omitempty"`
	Alert       *AlertRecord   `json:"alert,omitempty"`
	QueuedTotal int            `json:"queued_total,omitempty"`
}

// StatusChange is the payload of an EventStatus.
type StatusChange struct {
	Status  ConnectionStatus `json:"status"`
	Host    string           `json:"host"`
	Port    int              `json:"port"`
	Message string           `json:"message,omitempty"`
}

// HeartbeatInfo is the payload of an EventHeartbeat.
type HeartbeatInfo struct {
	Timestamp  time.Time `json:"timestamp"`
	References int       `json:"references"`
}

// EventPublisher accepts events. Implementations must not block the caller.
type EventPublisher interface {
	Publish(Event)
}

// Health is the operational snapshot of the ingest subsystem.
type Health struct {
	Status             ConnectionStatus  `json:"status"`
	Connections        []ConnectionState `json:"connections"`
	LastHeartbeat      time.Time         `json:"last_heartbeat"`
	SinceLastHeartbeat time.Duration     `json:"-"`
	Healthy            bool              `json:"healthy"`
	QueuedAlerts       int               `json:"queued_alerts"`
	CachedIdentifiers  int               `json:"cached_identifiers"`
	RunningStreams     int               `json:"running_streams"`
}
