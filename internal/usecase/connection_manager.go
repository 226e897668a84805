package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/funding_board/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultBaseDelay      = 1000 * time.Millisecond
	DefaultMaxDelay       = 30000 * time.Millisecond
	DefaultMaxAttempts    = 5
	DefaultStatsInterval  = 30 * time.Second
)

type ConnectionConfig struct {
	URL            string
	Credential     string
	ConnectTimeout time.Duration
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxAttempts    int
	StatsInterval  time.Duration // 0 disables the stats poll
}

// WithDefaults fills every unset field with its package default.
func (c ConnectionConfig) WithDefaults() ConnectionConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// stopper is the part of *time.Timer the manager needs.
type stopper interface {
	Stop() bool
}

// Frames exchanged with the feed.
type feedEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type feedCommand struct {
	Op string `json:"op"`
}

type feedStats struct {
	PingCount       int64    `json:"ping_count"`
	PongCount       int64    `json:"pong_count"`
	SessionDuration *float64 `json:"session_duration"`
	LatencyMs       *int64   `json:"latency_ms"`
}

type feedError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ConnectionManager owns the single streaming connection: it dials,
// reconnects with bounded exponential backoff, polls session stats and
// reports everything through one typed callback.
//
// Every goroutine or timer it starts captures the generation current at
// the time; callbacks from an older generation are ignored, so nothing
// fires into the state after a teardown.
type ConnectionManager struct {
	cfg    ConnectionConfig
	dialer domain.FeedDialer
	logger *zap.Logger
	emit   func(domain.Event)

	afterFunc    func(time.Duration, func()) stopper
	timeNow      func() time.Time
	newSessionID func() string

	mu               sync.Mutex
	state            domain.ConnectionState
	conn             domain.FeedConn
	gen              uint64
	cancelDial       context.CancelFunc
	reconnectTimer   stopper
	statsTimer       stopper
	stopped          bool // caller asked to disconnect
	disposed         bool
	connectedAt      time.Time
	statsRequestedAt time.Time

	wg sync.WaitGroup
}

func NewConnectionManager(cfg ConnectionConfig, dialer domain.FeedDialer, logger *zap.Logger, emit func(domain.Event)) *ConnectionManager {
	if emit == nil {
		emit = func(domain.Event) {}
	}
	return &ConnectionManager{
		cfg:    cfg.WithDefaults(),
		dialer: dialer,
		logger: logger,
		emit:   emit,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		timeNow:      time.Now,
		newSessionID: uuid.NewString,
		state:        domain.ConnectionState{Phase: domain.PhaseDisconnected},
	}
}

// State returns a copy of the connection state.
func (m *ConnectionManager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.LatencyMs = copyInt64Ptr(m.state.LatencyMs)
	return s
}

// Connect starts a connection attempt. It is a no-op while connected or
// connecting. A manual call clears an earlier auth or give-up stop.
func (m *ConnectionManager) Connect() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return errors.New("connection manager disposed")
	}
	if m.state.Phase != domain.PhaseDisconnected {
		m.mu.Unlock()
		return nil
	}
	if m.cfg.Credential == "" {
		m.mu.Unlock()
		err := fmt.Errorf("%w: feed credential is not set", domain.ErrConfiguration)
		m.logger.Error("Cannot connect to feed", zap.Error(err))
		m.emit(domain.EventError{Kind: domain.KindConfiguration, Err: err})
		return err
	}
	if m.state.AuthFailed || m.state.GaveUp {
		m.state.ReconnectAttempts = 0
	}
	m.stopped = false
	m.state.AuthFailed = false
	m.state.GaveUp = false
	stopTimer(&m.reconnectTimer)
	m.startDialLocked()
	m.mu.Unlock()
	return nil
}

// Reconnect is the manual reconnect action: tear down, forget the retry
// budget and connect again.
func (m *ConnectionManager) Reconnect() error {
	m.Disconnect()
	m.mu.Lock()
	m.state.ReconnectAttempts = 0
	m.mu.Unlock()
	return m.Connect()
}

// Disconnect closes the connection, cancels every pending timer and
// suppresses automatic reconnection until the next Connect.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.stopped = true
	was := m.state.Phase
	m.teardownLocked()
	stopTimer(&m.reconnectTimer)
	m.state.Phase = domain.PhaseDisconnected
	m.mu.Unlock()

	if was != domain.PhaseDisconnected {
		m.logger.Info("Feed disconnected by client")
		m.emit(domain.EventDisconnected{Reason: "client disconnect"})
	}
}

// Dispose disconnects and waits for the dial and read goroutines to
// exit. No event is emitted after it returns.
func (m *ConnectionManager) Dispose() {
	m.Disconnect()
	m.mu.Lock()
	m.disposed = true
	m.mu.Unlock()
	m.wg.Wait()
}

// RequestStats asks the server for session statistics.
func (m *ConnectionManager) RequestStats() error {
	m.mu.Lock()
	if m.state.Phase != domain.PhaseConnected || m.conn == nil {
		m.mu.Unlock()
		return domain.ErrNotConnected
	}
	conn := m.conn
	m.statsRequestedAt = m.timeNow()
	m.mu.Unlock()

	return conn.WriteJSON(feedCommand{Op: "stats"})
}

// backoff returns the delay before the given attempt (1-based).
func (m *ConnectionManager) backoff(attempt int) time.Duration {
	d := m.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.cfg.MaxDelay {
			return m.cfg.MaxDelay
		}
	}
	if d > m.cfg.MaxDelay {
		return m.cfg.MaxDelay
	}
	return d
}

func (m *ConnectionManager) startDialLocked() {
	m.gen++
	gen := m.gen
	m.state.Phase = domain.PhaseConnecting
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	m.cancelDial = cancel

	m.logger.Info("Connecting to feed",
		zap.String("url", m.cfg.URL),
		zap.Int("attempt", m.state.ReconnectAttempts))

	m.wg.Add(1)
	go m.run(ctx, cancel, gen)
}

// run dials, subscribes and then reads until the connection ends.
func (m *ConnectionManager) run(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer m.wg.Done()

	conn, err := m.dialer.Dial(ctx, m.cfg.URL, m.cfg.Credential)
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
	cancel()

	m.mu.Lock()
	if gen != m.gen || m.stopped || m.disposed {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		if timedOut && !errors.Is(err, domain.ErrAuthFailure) {
			err = fmt.Errorf("%w: connection timed out after %s: %v", domain.ErrTransientConnection, m.cfg.ConnectTimeout, err)
		}
		events := m.failLocked(err)
		m.mu.Unlock()
		m.dispatch(events)
		return
	}

	m.cancelDial = nil
	m.conn = conn
	m.state.Phase = domain.PhaseConnected
	m.state.ReconnectAttempts = 0
	m.state.SessionID = m.newSessionID()
	m.state.SessionStats = domain.SessionStats{}
	m.state.LatencyMs = nil
	m.connectedAt = m.timeNow()
	m.statsRequestedAt = time.Time{}
	m.scheduleStatsLocked(gen)
	sessionID := m.state.SessionID
	m.mu.Unlock()

	if err := conn.WriteJSON(feedCommand{Op: "subscribe"}); err != nil {
		m.connectionLost(gen, err)
		return
	}

	m.logger.Info(logMsgConnected, zap.String("session_id", sessionID))
	m.emit(domain.EventConnected{SessionID: sessionID})

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(gen, err)
			return
		}
		m.handleMessage(gen, msg)
	}
}

func (m *ConnectionManager) connectionLost(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.stopped || m.disposed || m.state.Phase == domain.PhaseDisconnected {
		m.mu.Unlock()
		return
	}
	if !errors.Is(err, domain.ErrAuthFailure) && !errors.Is(err, domain.ErrTransientConnection) {
		err = fmt.Errorf("%w: %v", domain.ErrTransientConnection, err)
	}
	events := m.failLocked(err)
	m.mu.Unlock()
	m.dispatch(events)
}

// failLocked moves to Disconnected and decides between retry, auth stop
// and give-up. It returns the events to emit once the lock is released.
func (m *ConnectionManager) failLocked(err error) []domain.Event {
	m.teardownLocked()
	m.state.Phase = domain.PhaseDisconnected
	reason := err.Error()

	if errors.Is(err, domain.ErrAuthFailure) {
		m.state.AuthFailed = true
		m.logger.Error(logMsgAuthRejected, zap.Error(err))
		return []domain.Event{
			domain.EventError{Kind: domain.KindAuth, Err: err},
			domain.EventDisconnected{Reason: reason},
		}
	}

	if m.state.ReconnectAttempts >= m.cfg.MaxAttempts {
		m.state.GaveUp = true
		final := fmt.Errorf("%w after %d attempts: %v", domain.ErrMaxAttemptsReached, m.state.ReconnectAttempts, err)
		m.logger.Error(logMsgGaveUp, zap.Error(final))
		return []domain.Event{
			domain.EventError{Kind: domain.KindMaxAttempts, Err: final},
			domain.EventDisconnected{Reason: reason},
		}
	}

	m.state.ReconnectAttempts++
	delay := m.backoff(m.state.ReconnectAttempts)
	gen := m.gen
	m.reconnectTimer = m.afterFunc(delay, func() { m.reconnect(gen) })

	m.logger.Warn(logMsgReconnectScheduled,
		zap.Error(err),
		zap.Int("attempt", m.state.ReconnectAttempts),
		zap.Duration("delay", delay))
	return []domain.Event{
		domain.EventError{Kind: domain.KindOf(err), Err: err},
		domain.EventDisconnected{Reason: reason},
	}
}

func (m *ConnectionManager) reconnect(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.stopped || m.disposed || m.state.Phase != domain.PhaseDisconnected {
		return
	}
	m.reconnectTimer = nil
	m.startDialLocked()
}

// teardownLocked releases the connection, the pending dial and the stats
// timer, and invalidates callbacks from the current generation.
func (m *ConnectionManager) teardownLocked() {
	m.gen++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	stopTimer(&m.statsTimer)
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.state.LatencyMs = nil
}

func (m *ConnectionManager) scheduleStatsLocked(gen uint64) {
	if m.cfg.StatsInterval <= 0 {
		return
	}
	m.statsTimer = m.afterFunc(m.cfg.StatsInterval, func() { m.pollStats(gen) })
}

func (m *ConnectionManager) pollStats(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state.Phase != domain.PhaseConnected {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.RequestStats(); err != nil {
		m.logger.Debug("Stats request failed", zap.Error(err))
	}

	m.mu.Lock()
	if gen == m.gen && m.state.Phase == domain.PhaseConnected {
		m.scheduleStatsLocked(gen)
	}
	m.mu.Unlock()
}

func (m *ConnectionManager) handleMessage(gen uint64, msg []byte) {
	var env feedEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		m.logger.Warn(logMsgMalformedFrame, zap.Error(err))
		return
	}

	m.mu.Lock()
	stale := gen != m.gen
	m.mu.Unlock()
	if stale {
		return
	}

	switch env.Type {
	case "snapshot", "bulkSnapshot":
		var records []json.RawMessage
		if err := json.Unmarshal(env.Data, &records); err != nil {
			m.logger.Warn("Snapshot frame data is not an array", zap.Error(err))
			return
		}
		m.emit(domain.EventSnapshot{Payload: []byte(env.Data), Records: records})
	case "delta":
		var records []json.RawMessage
		if err := json.Unmarshal(env.Data, &records); err != nil {
			m.logger.Warn("Delta frame data is not an array", zap.Error(err))
			return
		}
		m.emit(domain.EventDelta{Records: records})
	case "stats", "statsUpdate":
		m.handleStats(gen, env.Data)
	case "error":
		var fe feedError
		_ = json.Unmarshal(env.Data, &fe)
		if fe.Kind == "auth" {
			m.connectionLost(gen, fmt.Errorf("%w: %s", domain.ErrAuthFailure, fe.Message))
			return
		}
		m.logger.Warn("Feed reported an error", zap.String("kind", fe.Kind), zap.String("message", fe.Message))
	default:
		m.logger.Debug("Ignoring feed frame", zap.String("type", env.Type))
	}
}

func (m *ConnectionManager) handleStats(gen uint64, data json.RawMessage) {
	var fs feedStats
	if err := json.Unmarshal(data, &fs); err != nil {
		m.logger.Warn("Skipping malformed stats frame", zap.Error(err))
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	now := m.timeNow()
	stats := domain.SessionStats{PingCount: fs.PingCount, PongCount: fs.PongCount}
	if fs.SessionDuration != nil {
		stats.SessionDurationSec = *fs.SessionDuration
	} else {
		stats.SessionDurationSec = now.Sub(m.connectedAt).Seconds()
	}
	latency := copyInt64Ptr(fs.LatencyMs)
	if latency == nil && !m.statsRequestedAt.IsZero() {
		ms := now.Sub(m.statsRequestedAt).Milliseconds()
		latency = &ms
	}
	m.statsRequestedAt = time.Time{}
	m.state.SessionStats = stats
	m.state.LatencyMs = latency
	m.mu.Unlock()

	m.emit(domain.EventStatsUpdated{Stats: stats, LatencyMs: copyInt64Ptr(latency)})
}

func (m *ConnectionManager) dispatch(events []domain.Event) {
	for _, ev := range events {
		m.emit(ev)
	}
}

func stopTimer(t *stopper) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
