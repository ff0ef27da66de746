package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/tracklens/sitescanner/internal/stream"
)

// streamEvents serves the per-scan progress feed as server-sent
// events. The poller ends the stream on terminal status, max duration,
// or disconnect; a write failure here surfaces as an emit error and
// also ends it.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	key, ok := s.scanKey(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(s.logger, w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := s.poller.Stream(r.Context(), key, func(evt stream.Event) error {
		data, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		s.logger.Warn("progress stream ended with error",
			zap.String("scan_id", key.ScanID),
			zap.Error(err),
		)
	}
}
