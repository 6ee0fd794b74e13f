package api

import (
	"net/http"

	"github.com/nerrad567/gray-motion-core/internal/broadcast"
	"github.com/nerrad567/gray-motion-core/internal/motion"
)

// snapshot returns the engine's latest snapshot, writing a 503 when the
// engine has not published one yet.
func (s *Server) snapshot(w http.ResponseWriter) (*motion.Snapshot, bool) {
	snap := s.engine.Snapshot()
	if snap == nil {
		writeUnavailable(w, "motion engine not started")
		return nil, false
	}
	return snap, true
}

// handleStatus returns the full engine snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleListChannels returns every channel with its position and owner.
func (s *Server) handleListChannels(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channels":   snap.Channels,
		"count":      len(snap.Channels),
		"generation": snap.Generation,
	})
}

// handleListExecutions returns the live executions.
func (s *Server) handleListExecutions(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	executions := snap.Executions
	if executions == nil {
		executions = []motion.ExecutionStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": executions,
		"count":      len(executions),
		"generation": snap.Generation,
	})
}

// handleListAlerts returns the recent alert history.
func (s *Server) handleListAlerts(w http.ResponseWriter, _ *http.Request) {
	alerts := s.hub.Alerts()
	if alerts == nil {
		alerts = []broadcast.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}
