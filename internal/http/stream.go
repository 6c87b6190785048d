package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/splax/pado/internal/service/events"
	"github.com/splax/pado/internal/ws"
)

const (
	streamBackfillLimit = 20
	streamHeartbeat     = 15 * time.Second
)

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	caller, ok := r.callerFromRequest(w, req)
	if !ok {
		return
	}
	project, err := r.projects.Get(req.Context(), caller, projectID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
	list, err := r.events.List(req.Context(), project.ID, limit, offset)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleEventsWS upgrades to a websocket that receives every event of one
// project until either side goes away.
func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	caller, ok := r.callerFromRequest(w, req)
	if !ok {
		return
	}
	projectID := strings.TrimSpace(req.URL.Query().Get("project_id"))
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	project, err := r.projects.Get(req.Context(), caller, projectID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	hub := r.events.Hub()
	if hub == nil {
		writeError(w, http.StatusInternalServerError, "event stream unavailable")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.streamBuffer, r.logger)
	if !hub.Register(project.ID, client) {
		client.Close()
		return
	}
	release := r.trackStream("websocket")
	go client.WritePump()
	go func() {
		defer release()
		client.ReadPump()
		hub.Unregister(project.ID, client)
	}()
}

// handleEventsStream serves project events as Server-Sent Events. Recent
// events are replayed oldest first before live delivery starts. No event is
// delivered twice.
func (r *Router) handleEventsStream(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	caller, ok := r.callerFromRequest(w, req)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	project, err := r.projects.Get(req.Context(), caller, projectID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	hub := r.events.Hub()
	if hub == nil {
		writeError(w, http.StatusInternalServerError, "event stream unavailable")
		return
	}
	// Subscribe before reading history so nothing committed in between is
	// lost. Live events already in the backfill are dropped on resume.
	client := ws.NewSSEClient(w, flusher, r.logger)
	client.Hold()
	if !hub.Register(project.ID, client) {
		writeError(w, http.StatusInternalServerError, "event stream unavailable")
		return
	}
	defer hub.Unregister(project.ID, client)

	backfill, err := r.events.List(req.Context(), project.ID, streamBackfillLimit, 0)
	if err != nil {
		client.Close()
		r.writeServiceError(w, req, err)
		return
	}
	replay := make([][]byte, 0, len(backfill))
	replayed := make(map[int64]struct{}, len(backfill))
	for i := len(backfill) - 1; i >= 0; i-- {
		payload, err := events.MarshalEvent(backfill[i])
		if err != nil {
			r.logger.Warn("skip unencodable event", "project_id", project.ID, "error", err)
			continue
		}
		replay = append(replay, payload)
		replayed[backfill[i].ID] = struct{}{}
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	defer r.trackStream("sse")()

	if err := client.Heartbeat(); err != nil {
		return
	}
	if err := client.Resume(replay, func(payload []byte) bool {
		var head struct {
			ID int64 `json:"id"`
		}
		if json.Unmarshal(payload, &head) != nil {
			return false
		}
		_, seen := replayed[head.ID]
		return seen
	}); err != nil {
		return
	}

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}
