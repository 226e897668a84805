package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vitos/funding_board/internal/domain"
	"go.uber.org/zap"
)

func (s *Server) handleFundingRates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("margin") && !q.Has("q") {
		s.writeJSON(w, http.StatusOK, s.store.View())
		return
	}

	margin, ok := domain.ParseMarginType(q.Get("margin"))
	if !ok {
		http.Error(w, "margin must be stablecoin or token", http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.ViewFor(margin, q.Get("q")))
}

func (s *Server) handleGetFilter(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Filter())
}

func (s *Server) handleUpdateFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	if err := s.store.UpdateFilter(r.Context(), req.Key, req.Value); err != nil {
		s.writeFilterError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.Filter())
}

func (s *Server) handleSetVisibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Exchange string `json:"exchange"`
		Visible  bool   `json:"visible"`
		Margin   string `json:"margin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	margin, ok := domain.ParseMarginType(req.Margin)
	if !ok {
		http.Error(w, "margin must be stablecoin or token", http.StatusBadRequest)
		return
	}

	if err := s.store.SetExchangeVisibility(r.Context(), req.Exchange, req.Visible, margin); err != nil {
		s.writeFilterError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.Filter())
}

func (s *Server) handleResetFilterGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Group string `json:"group"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.ResetFilterGroup(r.Context(), domain.FilterGroup(req.Group)); err != nil {
		s.writeFilterError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.Filter())
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Connection())
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Reconnect(r.Context()); err != nil {
		s.logger.Error("Manual reconnect failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrConfiguration) {
			status = http.StatusPreconditionFailed
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
}

func (s *Server) handleRequestStats(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.RequestStats(); err != nil {
		if errors.Is(err, domain.ErrNotConnected) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		s.logger.Error("Stats request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	conn := s.store.Connection()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"phase":    conn.State.Phase,
		"degraded": conn.Degraded,
	})
}

func (s *Server) writeFilterError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrInvalidFilter) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Error("Filter update failed", zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
