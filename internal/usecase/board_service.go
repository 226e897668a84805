package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/vitos/funding_board/internal/domain"
	"go.uber.org/zap"
)

const eventBuffer = 256

// BoardService wires the connection manager, the REST fallback and the
// state store together. Every data event goes through one loop goroutine,
// so merges run one at a time and are never observed half-applied.
type BoardService struct {
	manager *ConnectionManager
	store   *StateStore
	source  domain.SnapshotSource
	logger  *zap.Logger

	events   chan domain.Event
	done     chan struct{}
	loopDone chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewBoardService(cfg ConnectionConfig, dialer domain.FeedDialer, source domain.SnapshotSource, store *StateStore, logger *zap.Logger) *BoardService {
	s := &BoardService{
		store:    store,
		source:   source,
		logger:   logger,
		events:   make(chan domain.Event, eventBuffer),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	s.manager = NewConnectionManager(cfg, dialer, logger.Named("connection"), s.enqueue)
	return s
}

func (s *BoardService) Store() *StateStore { return s.store }

func (s *BoardService) ConnectionState() domain.ConnectionState { return s.manager.State() }

// Start runs the event loop, loads the REST snapshot and opens the
// stream. A failed REST load is surfaced on the store but does not stop
// the stream from being tried. A missing credential is returned.
func (s *BoardService) Start(ctx context.Context) error {
	s.startOnce.Do(func() { go s.loop() })

	if err := s.LoadSnapshot(ctx); err != nil {
		s.logger.Warn("Initial REST load failed, relying on the stream", zap.Error(err))
	}
	return s.manager.Connect()
}

// LoadSnapshot fetches the REST snapshot and queues it for the loop.
func (s *BoardService) LoadSnapshot(ctx context.Context) error {
	if s.source == nil {
		return nil
	}
	records, err := s.source.FetchFundingRates(ctx)
	if err != nil {
		s.store.SetLoadError(err)
		return err
	}
	s.store.SetLoadError(nil)
	s.enqueue(domain.EventSnapshot{Records: records})
	return nil
}

// Reconnect is the manual reconnect action. The REST snapshot is
// refreshed alongside; its failure is reported but does not undo the
// reconnect.
func (s *BoardService) Reconnect(ctx context.Context) error {
	if err := s.manager.Reconnect(); err != nil {
		return err
	}
	if err := s.LoadSnapshot(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("REST refresh after reconnect failed", zap.Error(err))
	}
	return nil
}

func (s *BoardService) RequestStats() error {
	return s.manager.RequestStats()
}

// Stop tears the connection down before stopping the loop, so no late
// event reaches the store.
func (s *BoardService) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.manager.Dispose()
		close(s.done)
		s.startOnce.Do(func() { close(s.loopDone) })
		select {
		case <-s.loopDone:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

func (s *BoardService) enqueue(ev domain.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *BoardService) loop() {
	defer close(s.loopDone)
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-s.done:
			return
		}
	}
}

func (s *BoardService) handle(ev domain.Event) {
	switch e := ev.(type) {
	case domain.EventError:
		s.logger.Warn(logMsgConnectionError, zap.String("kind", string(e.Kind)), zap.Error(e.Err))
	case domain.EventDisconnected:
		s.logger.Info("Connection closed", zap.String("reason", e.Reason))
	}
	s.store.HandleEvent(ev, s.manager.State())
}
