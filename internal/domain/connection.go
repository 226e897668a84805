package domain

import "encoding/json"

type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
)

type SessionStats struct {
	PingCount          int64   `json:"ping_count"`
	PongCount          int64   `json:"pong_count"`
	SessionDurationSec float64 `json:"session_duration_sec"`
}

// ConnectionState is owned by the connection manager; everyone else gets copies.
type ConnectionState struct {
	Phase             Phase        `json:"phase"`
	ReconnectAttempts int          `json:"reconnect_attempts"`
	LatencyMs         *int64       `json:"latency_ms"`
	SessionStats      SessionStats `json:"session_stats"`
	SessionID         string       `json:"session_id,omitempty"`
	AuthFailed        bool         `json:"auth_failed"`
	GaveUp            bool         `json:"gave_up"`
}

// Event is the closed set of notifications emitted by the connection manager.
type Event interface {
	isEvent()
}

type EventConnected struct {
	SessionID string
}

type EventDisconnected struct {
	Reason string
}

type EventError struct {
	Kind ErrorKind
	Err  error
}

type EventStatsUpdated struct {
	Stats     SessionStats
	LatencyMs *int64
}

// EventSnapshot carries the raw records of a bulk snapshot frame.
// Payload is the undecoded frame body, used for duplicate detection.
type EventSnapshot struct {
	Payload []byte
	Records []json.RawMessage
}

type EventDelta struct {
	Records []json.RawMessage
}

func (EventConnected) isEvent()    {}
func (EventDisconnected) isEvent() {}
func (EventError) isEvent()        {}
func (EventStatsUpdated) isEvent() {}
func (EventSnapshot) isEvent()     {}
func (EventDelta) isEvent()        {}
