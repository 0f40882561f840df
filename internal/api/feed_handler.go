package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"rsvp/internal/feed"
)

// handleFeed streams reservation changes as server-sent events. The
// client passes ?resume_from=N to replay everything after sequence N, or
// ?consumer=name to resume from its durably acked offset. Delivery is
// at-least-once; clients deduplicate by sequence.
func (s *HTTPServer) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	opts := feed.SubscribeOptions{Consumer: r.URL.Query().Get("consumer")}
	if v := r.URL.Query().Get("resume_from"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil || seq < 0 {
			writeError(w, http.StatusBadRequest, "invalid resume_from")
			return
		}
		opts.ResumeFrom = &seq
	}

	sub, err := s.svc.Subscribe(r.Context(), opts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case change, ok := <-sub.Changes():
			if !ok {
				return
			}
			payload, err := json.Marshal(change)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\ndata: %s\n\n", change.Sequence, payload)
			flusher.Flush()

			// The stream itself is the ack: what reached the socket is
			// what the consumer resumes after.
			_ = sub.Ack(r.Context(), change.Sequence)
		}
	}
}
