package agent

import (
	"encoding/json"
	"net/http"

	"securevpn/internal/session"
)

type snapshotter interface {
	Snapshot() (session.Snapshot, error)
}

type healthResponse struct {
	Status         string `json:"status"`
	State          string `json:"state,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	ElapsedSeconds int    `json:"elapsed_seconds,omitempty"`
	AutoConnect    bool   `json:"auto_connect"`
}

// healthHandler reports the controller state. It answers 503 once the
// controller is closed.
func healthHandler(s snapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		snap, err := s.Snapshot()
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(healthResponse{Status: err.Error()})
			return
		}

		resp := healthResponse{
			Status:      "ok",
			State:       snap.State.String(),
			AutoConnect: snap.AutoConnect,
		}
		if snap.HasSelection {
			resp.Endpoint = snap.Selected.ID
		}
		if snap.Session != nil {
			resp.SessionID = snap.Session.ID
			resp.ElapsedSeconds = snap.Sample.ElapsedSeconds
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
