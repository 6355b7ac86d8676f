package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/automaker/automaker/internal/eventbus"
)

// writeEventStream streams a feature's ActivityEvents as Server-Sent Events:
// replay-then-live delivery over a flushed text/event-stream response backed
// by eventbus.Bus's subscription.
func writeEventStream(w http.ResponseWriter, r *http.Request, bus *eventbus.Bus, featureID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := bus.Subscribe(featureID)
	defer sub.Cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				fmt.Fprintf(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
