package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/funding_board/internal/domain"
	"go.uber.org/zap"
)

// fakeConn delivers frames pushed by the test and blocks until closed.
type fakeConn struct {
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once

	mu     sync.Mutex
	writes []any
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) ops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, w := range c.writes {
		if cmd, ok := w.(feedCommand); ok {
			out = append(out, cmd.Op)
		}
	}
	return out
}

// fakeDialer hands out the queued results in order, then fails transiently.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   int
}

type dialResult struct {
	conn domain.FeedConn
	err  error
}

func (d *fakeDialer) Dial(ctx context.Context, url, credential string) (domain.FeedConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.results) == 0 {
		return nil, fmt.Errorf("%w: refused", domain.ErrTransientConnection)
	}
	r := d.results[0]
	d.results = d.results[1:]
	return r.conn, r.err
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

// fakeScheduler records timers instead of running them.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) afterFunc(d time.Duration, f func()) stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.timers))
	for i, t := range s.timers {
		out[i] = t.delay
	}
	return out
}

func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[len(s.timers)-1]
}

func newTestManager(t *testing.T, cfg ConnectionConfig, dialer domain.FeedDialer) (*ConnectionManager, *fakeScheduler, chan domain.Event) {
	t.Helper()
	if cfg.Credential == "" {
		cfg.Credential = "secret"
	}
	events := make(chan domain.Event, 64)
	m := NewConnectionManager(cfg, dialer, zap.NewNop(), func(ev domain.Event) { events <- ev })
	sched := &fakeScheduler{}
	m.afterFunc = sched.afterFunc
	t.Cleanup(m.Dispose)
	return m, sched, events
}

func waitFor[T domain.Event](t *testing.T, events <-chan domain.Event) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if e, ok := ev.(T); ok {
				return e
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestConnectionManager_BackoffDoubles(t *testing.T) {
	dialer := &fakeDialer{}
	m, sched, events := newTestManager(t, ConnectionConfig{URL: "ws://feed"}, dialer)

	require.NoError(t, m.Connect())
	waitFor[domain.EventDisconnected](t, events)
	for i := 0; i < 2; i++ {
		sched.last().fn()
		waitFor[domain.EventDisconnected](t, events)
	}

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sched.delays())
	st := m.State()
	assert.Equal(t, 3, st.ReconnectAttempts)
	assert.Equal(t, domain.PhaseDisconnected, st.Phase)
	assert.False(t, st.GaveUp)
	assert.Equal(t, 3, dialer.count())
}

// blockingDialer never completes a dial on its own.
type blockingDialer struct{}

func (blockingDialer) Dial(ctx context.Context, url, credential string) (domain.FeedConn, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %v", domain.ErrTransientConnection, ctx.Err())
}

func TestConnectionManager_ConnectTimeoutSchedulesRetry(t *testing.T) {
	m, sched, events := newTestManager(t, ConnectionConfig{URL: "ws://feed", ConnectTimeout: 50 * time.Millisecond}, blockingDialer{})

	require.NoError(t, m.Connect())
	ev := waitFor[domain.EventError](t, events)
	assert.Equal(t, domain.KindTransient, ev.Kind)
	assert.ErrorIs(t, ev.Err, domain.ErrTransientConnection)
	assert.Contains(t, ev.Err.Error(), "timed out")
	waitFor[domain.EventDisconnected](t, events)

	assert.Equal(t, []time.Duration{time.Second}, sched.delays())
	st := m.State()
	assert.Equal(t, domain.PhaseDisconnected, st.Phase)
	assert.Equal(t, 1, st.ReconnectAttempts)
	assert.False(t, st.GaveUp)
}

func TestConnectionManager_GivesUpAfterMaxAttempts(t *testing.T) {
	dialer := &fakeDialer{}
	m, sched, events := newTestManager(t, ConnectionConfig{URL: "ws://feed", MaxAttempts: 5}, dialer)

	require.NoError(t, m.Connect())
	waitFor[domain.EventDisconnected](t, events)
	for i := 0; i < 5; i++ {
		sched.last().fn()
		if i < 4 {
			waitFor[domain.EventDisconnected](t, events)
		}
	}
	ev := waitFor[domain.EventError](t, events)
	for ev.Kind != domain.KindMaxAttempts {
		ev = waitFor[domain.EventError](t, events)
	}
	assert.ErrorIs(t, ev.Err, domain.ErrMaxAttemptsReached)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, sched.delays())
	st := m.State()
	assert.True(t, st.GaveUp)
	assert.Equal(t, 5, st.ReconnectAttempts)
	assert.Equal(t, 6, dialer.count())
}

func TestConnectionManager_BackoffCapped(t *testing.T) {
	m, _, _ := newTestManager(t, ConnectionConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second}, &fakeDialer{})
	assert.Equal(t, time.Second, m.backoff(1))
	assert.Equal(t, 4*time.Second, m.backoff(3))
	assert.Equal(t, 5*time.Second, m.backoff(4))
	assert.Equal(t, 5*time.Second, m.backoff(30))
}

func TestConnectionManager_AuthFailureStops(t *testing.T) {
	dialer := &fakeDialer{results: []dialResult{{err: fmt.Errorf("%w: 401", domain.ErrAuthFailure)}}}
	m, sched, events := newTestManager(t, ConnectionConfig{URL: "ws://feed"}, dialer)

	require.NoError(t, m.Connect())
	ev := waitFor[domain.EventError](t, events)
	assert.Equal(t, domain.KindAuth, ev.Kind)
	waitFor[domain.EventDisconnected](t, events)

	assert.Empty(t, sched.delays(), "no reconnect after auth failure")
	assert.True(t, m.State().AuthFailed)
	assert.Equal(t, 1, dialer.count())
}

func TestConnectionManager_MissingCredential(t *testing.T) {
	dialer := &fakeDialer{}
	events := make(chan domain.Event, 4)
	m := NewConnectionManager(ConnectionConfig{URL: "ws://feed"}, dialer, zap.NewNop(), func(ev domain.Event) { events <- ev })
	defer m.Dispose()

	err := m.Connect()
	require.ErrorIs(t, err, domain.ErrConfiguration)
	ev := waitFor[domain.EventError](t, events)
	assert.Equal(t, domain.KindConfiguration, ev.Kind)
	assert.Zero(t, dialer.count())
	assert.Equal(t, domain.PhaseDisconnected, m.State().Phase)
}

func TestConnectionManager_DisconnectCancelsReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	m, sched, events := newTestManager(t, ConnectionConfig{URL: "ws://feed"}, dialer)

	require.NoError(t, m.Connect())
	waitFor[domain.EventDisconnected](t, events)
	timer := sched.last()

	m.Disconnect()
	assert.True(t, timer.stopped)

	// A timer that already fired must not dial.
	timer.fn()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.count())
	assert.Equal(t, domain.PhaseDisconnected, m.State().Phase)
}

func TestConnectionManager_SessionLifecycle(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{results: []dialResult{{conn: conn}}}
	m, sched, events := newTestManager(t, ConnectionConfig{URL: "ws://feed", StatsInterval: 30 * time.Second}, dialer)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	var nowMu sync.Mutex
	m.timeNow = func() time.Time {
		nowMu.Lock()
		defer nowMu.Unlock()
		return now
	}

	require.NoError(t, m.Connect())
	connected := waitFor[domain.EventConnected](t, events)
	assert.NotEmpty(t, connected.SessionID)
	assert.Equal(t, []string{"subscribe"}, conn.ops())
	assert.Equal(t, []time.Duration{30 * time.Second}, sched.delays(), "stats poll scheduled")

	st := m.State()
	assert.Equal(t, domain.PhaseConnected, st.Phase)
	assert.Equal(t, connected.SessionID, st.SessionID)

	// Stats round trip with locally measured latency.
	require.NoError(t, m.RequestStats())
	nowMu.Lock()
	now = start.Add(120 * time.Millisecond)
	nowMu.Unlock()
	conn.incoming <- []byte(`{"type":"stats","data":{"ping_count":4,"pong_count":3}}`)
	stats := waitFor[domain.EventStatsUpdated](t, events)
	assert.Equal(t, int64(4), stats.Stats.PingCount)
	assert.InDelta(t, 0.12, stats.Stats.SessionDurationSec, 1e-9)
	require.NotNil(t, stats.LatencyMs)
	assert.Equal(t, int64(120), *stats.LatencyMs)

	// Data frames are forwarded.
	conn.incoming <- []byte(`{"type":"snapshot","data":[{"symbol":"BTC"},{"symbol":"ETH"}]}`)
	snap := waitFor[domain.EventSnapshot](t, events)
	assert.Len(t, snap.Records, 2)
	assert.NotEmpty(t, snap.Payload)

	conn.incoming <- []byte(`{"type":"delta","data":[{"symbol":"BTC"}]}`)
	delta := waitFor[domain.EventDelta](t, events)
	assert.Len(t, delta.Records, 1)

	// Server drops the connection.
	_ = conn.Close()
	ev := waitFor[domain.EventError](t, events)
	assert.Equal(t, domain.KindTransient, ev.Kind)
	waitFor[domain.EventDisconnected](t, events)

	st = m.State()
	assert.Equal(t, domain.PhaseDisconnected, st.Phase)
	assert.Equal(t, 1, st.ReconnectAttempts)
	assert.Nil(t, st.LatencyMs)
	assert.Equal(t, time.Second, sched.last().delay)
	assert.True(t, sched.timers[0].stopped, "stats poll cancelled")
}

func TestConnectionManager_AuthErrorFrame(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{results: []dialResult{{conn: conn}}}
	m, sched, events := newTestManager(t, ConnectionConfig{URL: "ws://feed"}, dialer)

	require.NoError(t, m.Connect())
	waitFor[domain.EventConnected](t, events)

	conn.incoming <- []byte(`{"type":"error","data":{"kind":"auth","message":"key revoked"}}`)
	ev := waitFor[domain.EventError](t, events)
	assert.Equal(t, domain.KindAuth, ev.Kind)
	waitFor[domain.EventDisconnected](t, events)

	assert.True(t, m.State().AuthFailed)
	assert.Empty(t, sched.delays())
}

func TestConnectionManager_RequestStatsWhenDisconnected(t *testing.T) {
	m, _, _ := newTestManager(t, ConnectionConfig{URL: "ws://feed"}, &fakeDialer{})
	assert.ErrorIs(t, m.RequestStats(), domain.ErrNotConnected)
}

func TestConnectionManager_ReconnectResetsBudget(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{results: []dialResult{{err: fmt.Errorf("%w: 403", domain.ErrAuthFailure)}, {conn: conn}}}
	m, _, events := newTestManager(t, ConnectionConfig{URL: "ws://feed"}, dialer)

	require.NoError(t, m.Connect())
	waitFor[domain.EventDisconnected](t, events)
	require.True(t, m.State().AuthFailed)

	require.NoError(t, m.Reconnect())
	waitFor[domain.EventConnected](t, events)
	st := m.State()
	assert.False(t, st.AuthFailed)
	assert.Zero(t, st.ReconnectAttempts)
}

func TestFeedEnvelopeIgnoresUnknownFrames(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{results: []dialResult{{conn: conn}}}
	m, _, events := newTestManager(t, ConnectionConfig{URL: "ws://feed"}, dialer)

	require.NoError(t, m.Connect())
	waitFor[domain.EventConnected](t, events)

	conn.incoming <- []byte(`not json`)
	conn.incoming <- []byte(`{"type":"heartbeat"}`)
	raw, _ := json.Marshal(map[string]any{"type": "delta", "data": []any{map[string]any{"symbol": "X"}}})
	conn.incoming <- raw

	delta := waitFor[domain.EventDelta](t, events)
	assert.Len(t, delta.Records, 1)
	assert.Equal(t, domain.PhaseConnected, m.State().Phase)
}
