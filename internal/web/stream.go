package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vitos/funding_board/internal/usecase"
	"go.uber.org/zap"
)

const streamKeepAlive = 15 * time.Second

// handleFundingRatesStream pushes the view as server-sent events on
// every recomputation. Slow clients only see the latest view.
func (s *Server) handleFundingRatesStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	updates := make(chan usecase.View, 1)
	cancel := s.store.Subscribe(func(v usecase.View) {
		select {
		case updates <- v:
		default:
			// drop the stale view and keep the newest
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- v:
			default:
			}
		}
	})
	defer cancel()

	if err := writeEvent(w, s.store.View()); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-updates:
			if err := writeEvent(w, v); err != nil {
				s.logger.Debug("Stream client gone", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, v usecase.View) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: view\ndata: %s\n\n", b)
	return err
}
