package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vitos/funding_board/internal/usecase"
	"go.uber.org/zap"
)

// Controller is the part of the board service the handlers drive.
type Controller interface {
	Reconnect(ctx context.Context) error
	RequestStats() error
}

type Server struct {
	router     *http.ServeMux
	server     *http.Server
	store      *usecase.StateStore
	controller Controller
	logger     *zap.Logger
}

func NewServer(
	port int,
	store *usecase.StateStore,
	controller Controller,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:     http.NewServeMux(),
		store:      store,
		controller: controller,
		logger:     logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Table
	s.router.HandleFunc("GET /api/funding-rates", s.handleFundingRates)
	s.router.HandleFunc("GET /stream/funding-rates", s.handleFundingRatesStream)

	// Filter
	s.router.HandleFunc("GET /api/filter", s.handleGetFilter)
	s.router.HandleFunc("POST /api/filter", s.handleUpdateFilter)
	s.router.HandleFunc("POST /api/filter/visibility", s.handleSetVisibility)
	s.router.HandleFunc("POST /api/filter/reset", s.handleResetFilterGroup)

	// Connection
	s.router.HandleFunc("GET /api/connection", s.handleConnection)
	s.router.HandleFunc("POST /api/connection/reconnect", s.handleReconnect)
	s.router.HandleFunc("POST /api/connection/stats", s.handleRequestStats)

	s.router.HandleFunc("GET /healthz", s.handleHealth)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
