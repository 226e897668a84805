package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/funding_board/internal/domain"
	"go.uber.org/zap"
)

// ConnectionStatus is the store's read-only mirror of the connection,
// plus the last surfaced errors.
type ConnectionStatus struct {
	State     domain.ConnectionState `json:"state"`
	LastError string                 `json:"last_error,omitempty"`
	ErrorKind domain.ErrorKind       `json:"error_kind,omitempty"`
	LoadError string                 `json:"load_error,omitempty"`
	Degraded  bool                   `json:"degraded"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// StateStore holds the canonical snapshot, the filter configuration and
// the connection mirror. All mutations go through its actions; each one
// recomputes the view and notifies subscribers. Only the filter
// configuration is persisted.
type StateStore struct {
	repo       domain.FilterRepository
	reconciler *Reconciler
	engine     *QueryEngine
	logger     *zap.Logger

	// notifyMu orders recompute and fan-out so subscribers see views in
	// the order they were computed. Subscribers must not call back into
	// mutating actions.
	notifyMu sync.Mutex

	mu          sync.RWMutex
	snapshot    domain.Snapshot
	filter      domain.FilterConfig
	margin      domain.MarginType
	search      string
	conn        ConnectionStatus
	view        View
	subscribers map[int]func(View)
	nextSubID   int
}

// NewStateStore loads the persisted filter, falling back to defaults
// when none is stored or the stored one cannot be used.
func NewStateStore(ctx context.Context, repo domain.FilterRepository, reconciler *Reconciler, logger *zap.Logger) *StateStore {
	s := &StateStore{
		repo:        repo,
		reconciler:  reconciler,
		engine:      NewQueryEngine(),
		logger:      logger,
		filter:      domain.DefaultFilterConfig(),
		margin:      domain.MarginStablecoin,
		subscribers: make(map[int]func(View)),
		conn: ConnectionStatus{
			State: domain.ConnectionState{Phase: domain.PhaseDisconnected},
		},
	}

	stored, err := repo.LoadFilterConfig(ctx)
	switch {
	case err != nil:
		logger.Warn("Failed to load filter config, using defaults", zap.Error(err))
	case stored != nil:
		cfg := stored.Normalize()
		if err := cfg.Validate(); err != nil {
			logger.Warn("Stored filter config is invalid, using defaults", zap.Error(err))
		} else {
			s.filter = cfg
		}
	}

	s.view = s.engine.Compute(s.snapshot, s.queryLocked())
	return s
}

func (s *StateStore) queryLocked() Query {
	return Query{MarginType: s.margin, Search: s.search, Filter: s.filter}
}

// View returns the derived view for the store's own margin and search.
func (s *StateStore) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// ViewFor computes a view with an explicit margin type and search.
func (s *StateStore) ViewFor(margin domain.MarginType, search string) View {
	s.mu.RLock()
	snap := s.snapshot
	q := Query{MarginType: margin, Search: search, Filter: s.filter}
	s.mu.RUnlock()
	return BuildView(snap, q)
}

func (s *StateStore) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

func (s *StateStore) Filter() domain.FilterConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter.Clone()
}

func (s *StateStore) Connection() ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// Subscribe registers fn for every recomputed view and returns a cancel func.
func (s *StateStore) Subscribe(fn func(View)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// ApplySnapshot replaces the canonical collection. payload may be nil.
func (s *StateStore) ApplySnapshot(payload []byte, records []json.RawMessage) bool {
	snap, changed := s.reconciler.ApplySnapshot(payload, records)
	if !changed {
		return false
	}
	s.mu.Lock()
	s.snapshot = snap
	s.conn.LoadError = ""
	s.mu.Unlock()
	s.recompute()
	return true
}

func (s *StateStore) ApplyDelta(records []json.RawMessage) bool {
	snap, changed := s.reconciler.ApplyDelta(records)
	if !changed {
		return false
	}
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
	s.recompute()
	return true
}

func (s *StateStore) UpdateFilter(ctx context.Context, key string, value any) error {
	return s.mutateFilter(ctx, func(c domain.FilterConfig) (domain.FilterConfig, error) {
		return c.WithField(key, value)
	})
}

func (s *StateStore) SetExchangeVisibility(ctx context.Context, exchange string, visible bool, margin domain.MarginType) error {
	if domain.NormalizeExchange(exchange) == "" {
		return fmt.Errorf("%w: exchange is required", domain.ErrInvalidFilter)
	}
	return s.mutateFilter(ctx, func(c domain.FilterConfig) (domain.FilterConfig, error) {
		return c.WithVisibility(margin, exchange, visible), nil
	})
}

func (s *StateStore) ResetFilterGroup(ctx context.Context, group domain.FilterGroup) error {
	return s.mutateFilter(ctx, func(c domain.FilterConfig) (domain.FilterConfig, error) {
		return c.ResetGroup(group)
	})
}

// mutateFilter applies fn and writes the result back. The in-memory
// change stands even when persisting fails; the error is returned.
func (s *StateStore) mutateFilter(ctx context.Context, fn func(domain.FilterConfig) (domain.FilterConfig, error)) error {
	s.mu.Lock()
	next, err := fn(s.filter)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.filter = next
	s.mu.Unlock()

	s.recompute()

	if err := s.repo.SaveFilterConfig(ctx, next); err != nil {
		s.logger.Error("Failed to persist filter config", zap.Error(err))
		return fmt.Errorf("persist filter config: %w", err)
	}
	return nil
}

func (s *StateStore) SetMarginType(m domain.MarginType) {
	s.mu.Lock()
	s.margin = m
	s.mu.Unlock()
	s.recompute()
}

func (s *StateStore) SetSearch(q string) {
	s.mu.Lock()
	s.search = q
	s.mu.Unlock()
	s.recompute()
}

// SetLoadError records a failed REST load; data stays at its last value.
func (s *StateStore) SetLoadError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.conn.LoadError = ""
		return
	}
	s.conn.LoadError = err.Error()
}

// HandleEvent mirrors one connection manager event into the store.
// state is the manager's state at the time of the event.
func (s *StateStore) HandleEvent(ev domain.Event, state domain.ConnectionState) {
	switch e := ev.(type) {
	case domain.EventSnapshot:
		s.ApplySnapshot(e.Payload, e.Records)
		return
	case domain.EventDelta:
		s.ApplyDelta(e.Records)
		return
	}

	s.mu.Lock()
	s.conn.State = state
	s.conn.UpdatedAt = time.Now()
	switch e := ev.(type) {
	case domain.EventConnected:
		s.conn.LastError = ""
		s.conn.ErrorKind = ""
		s.conn.Degraded = false
	case domain.EventError:
		s.conn.ErrorKind = e.Kind
		if e.Err != nil {
			s.conn.LastError = e.Err.Error()
		}
		s.conn.Degraded = true
	case domain.EventDisconnected:
		s.conn.Degraded = true
	}
	s.mu.Unlock()
}

func (s *StateStore) recompute() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.view = s.engine.Compute(s.snapshot, s.queryLocked())
	view := s.view
	subs := make([]func(View), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(view)
	}
}
