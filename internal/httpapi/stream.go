package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"filegate/gateway/internal/agent"
	"filegate/gateway/internal/errinfo"
)

// handleAskStream runs the agent and streams its progress as server-sent
// events: status, chunk and file_written while running, then exactly one
// done or error event.
func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errinfo.ValidationFailed(errinfo.PhaseAgent, "streaming not supported"))
		return
	}
	q := r.URL.Query()
	projectID, prompt, saveAs := q.Get("project_id"), q.Get("prompt"), q.Get("save_as")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	events := make(chan agent.Event, 64)
	var (
		result  *agent.Result
		errInfo *errinfo.ErrorInfo
	)
	go func() {
		defer close(events)
		result, errInfo = s.gw.Ask(ctx, projectID, prompt, saveAs, func(ev agent.Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
	}()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if errInfo != nil {
					writeEvent(w, "error", errInfo)
				} else {
					writeEvent(w, "done", result)
				}
				flusher.Flush()
				return
			}
			writeEvent(w, ev.Kind, ev)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
