package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"campuswallet.org/internal/auth"
	"campuswallet.org/internal/events"
)

const streamHeartbeat = 15 * time.Second

// Stream serves committed ledger events as Server-Sent Events. Finance admins
// see every event; other callers only movements on accounts they own.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming_disabled", "streaming disabled")
		return
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated", "missing identity")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	ch := a.stream.Subscribe(ctx)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case evt, open := <-ch:
			if !open {
				return
			}
			if !visible(id, evt) {
				continue
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, payload)
			flusher.Flush()
		}
	}
}

func visible(id auth.Identity, evt events.Event) bool {
	if id.Role == auth.RoleFinanceAdmin {
		return true
	}
	return evt.Involves(id.AccountID) || evt.Involves(id.OrgAccountID)
}
