package v1

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ampd/internal/session"
)

// sseWriter frames stream events as text/event-stream records.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter sets the streaming headers and returns a writer, or an
// error when the underlying ResponseWriter cannot flush.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

// Write emits one `event: <type>\ndata: <json>\n\n` record and flushes.
func (s *sseWriter) Write(ev session.StreamEvent) error {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// terminal reports whether ev ends an execute stream. Failures end
// with a message frame of type "error", which follows the
// execution_error diagnostic.
func terminal(ev session.StreamEvent) bool {
	if ev.Type == session.EventAssistantMessageComplete {
		return true
	}
	if ev.Type == session.EventMessage {
		if t, _ := ev.Payload["type"].(string); t == "error" {
			return true
		}
	}
	return false
}
