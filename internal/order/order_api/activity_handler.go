package order_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-redemption/internal/sse"
)

const keepAliveInterval = 25 * time.Second

type ActivitySource interface {
	Subscribe(ctx context.Context, eventID string) <-chan sse.Activity
}

// StreamEventActivity streams payments and claims of one event as
// Server-Sent Events, for claim-point dashboards.
func (h *Handler) StreamEventActivity(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	rc := http.NewResponseController(w)
	// the stream outlives the server write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	activity := h.Activity.Subscribe(ctx, eventID)

	fmt.Fprintf(w, "event: connected\ndata: {\"eventId\":%q}\n\n", eventID)
	if err := rc.Flush(); err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("streaming unsupported: %v", err))
		return
	}
	h.Logger.Info("SSE", fmt.Sprintf("Client connected to activity of event %s", eventID))

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case a, ok := <-activity:
			if !ok {
				return
			}
			data, err := json.Marshal(a)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize activity: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", a.Type, data)
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client left activity of event %s", eventID))
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
