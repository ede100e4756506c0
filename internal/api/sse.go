package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"meshrelay/internal/relay"
)

const (
	streamBuffer    = 64
	streamKeepalive = 20 * time.Second
)

// eventsHandler streams relay events as server-sent events. ?kind= narrows
// the stream to a comma separated set of event kinds.
func (s *Server) eventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.events == nil {
			http.Error(w, "event stream disabled", http.StatusServiceUnavailable)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "stream unsupported", http.StatusInternalServerError)
			return
		}
		kinds := parseKinds(r.URL.Query().Get("kind"))

		ch, cancel := s.events.Subscribe(streamBuffer)
		defer cancel()
		s.metrics.EventStream.Inc()
		defer s.metrics.EventStream.Dec()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ":ok\n\n")
		flusher.Flush()

		keepalive := time.NewTicker(streamKeepalive)
		defer keepalive.Stop()
		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepalive.C:
				fmt.Fprint(w, ":\n\n")
				flusher.Flush()
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if len(kinds) > 0 && !kinds[evt.Kind] {
					continue
				}
				data, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data)
				flusher.Flush()
			}
		}
	}
}

func parseKinds(raw string) map[relay.EventKind]bool {
	if raw == "" {
		return nil
	}
	kinds := make(map[relay.EventKind]bool)
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[relay.EventKind(k)] = true
		}
	}
	return kinds
}
