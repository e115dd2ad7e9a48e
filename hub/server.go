package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"punch-power/analytics"
	"punch-power/workflow"
)

const submitTimeout = 2 * time.Second

// Controller is the session surface the REST API drives.
type Controller interface {
	Submit(ctx context.Context, cmd workflow.Command) error
	SetPreset(ctx context.Context, name string) error
	State() workflow.State
}

var upgrader = websocket.Upgrader{
	// the dashboard is served from a dev server on another port
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves /ws and the /api routes.
func (h *Hub) Handler(ctl Controller, presets map[string]float64) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied
			h.logger.Warn("upgrade", "error", err)
			return
		}
		h.serve(conn)
	})

	mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctl.State())
	})

	mux.HandleFunc("GET /api/presets", func(w http.ResponseWriter, r *http.Request) {
		out := make(map[string]float64)
		for _, name := range analytics.PresetNames(presets) {
			out[name], _ = analytics.StrongThreshold(name, presets)
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("POST /api/session/preset", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Preset string `json:"preset"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), submitTimeout)
		defer cancel()
		if err := ctl.SetPreset(ctx, body.Preset); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	mux.HandleFunc("POST /api/session/{cmd}", func(w http.ResponseWriter, r *http.Request) {
		cmd, err := workflow.ParseCommand(r.PathValue("cmd"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), submitTimeout)
		defer cancel()
		if err := ctl.Submit(ctx, cmd); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
	})

	return mux
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, analytics.ErrUnknownPreset):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrUnknownCommand):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
