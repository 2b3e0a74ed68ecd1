package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// SSEHandler streams broker events to a client as server-sent events.
// An optional ?feeds=recovery,credits query restricts the stream to the
// named feeds; with no filter every feed is delivered.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		var wanted map[string]bool
		if raw := r.URL.Query().Get("feeds"); raw != "" {
			wanted = make(map[string]bool)
			for _, f := range strings.Split(raw, ",") {
				if f = strings.TrimSpace(f); f != "" {
					wanted[f] = true
				}
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)
		slog.Debug("sse client connected", "id", id, "remote", r.RemoteAddr)

		for {
			select {
			case <-r.Context().Done():
				slog.Debug("sse client disconnected", "id", id)
				return
			case evt, open := <-ch:
				if !open {
					return
				}
				if wanted != nil && !wanted[evt.Feed] {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Feed, evt.Payload)
				flusher.Flush()
			}
		}
	}
}
