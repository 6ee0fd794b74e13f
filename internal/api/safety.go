package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/gray-motion-core/internal/audit"
	"github.com/nerrad567/gray-motion-core/internal/motion"
)

// stopRequest is the optional body for POST /safety/stop.
type stopRequest struct {
	Reason string `json:"reason"`
}

// handleEmergencyStop latches EMERGENCY_STOP and halts every execution.
// Stopping an already stopped system succeeds.
func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "operator stop"
	}
	source := callerSource(r.Context())

	err := s.engine.EmergencyStop(r.Context(), reason+" ("+source+")")
	entry := callerEntry(r.Context(), audit.ActionEmergencyStop, "", err)
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	entry.Details["reason"] = reason
	s.audit.record(r.Context(), entry)
	if err != nil {
		s.logger.Error("emergency stop request failed", "error", err, "source", source)
		writeMotionError(w, err)
		return
	}
	s.logger.Warn("emergency stop requested", "reason", reason, "source", source)

	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap.Safety)
}

// handleSafetyReset clears a latched emergency stop. It fails with 409
// while a hard violation is still active.
func (s *Server) handleSafetyReset(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Reset(r.Context())
	s.audit.record(r.Context(), callerEntry(r.Context(), audit.ActionSafetyReset, "", err))
	if err != nil {
		code := motion.Reason(err)
		body := Error{
			Status:  statusForReason(code),
			Code:    code,
			Message: err.Error(),
		}
		s.logger.Warn("safety reset refused", "reason", code, "source", callerSource(r.Context()))
		writeJSON(w, body.Status, map[string]any{
			"error":  body,
			"safety": status,
		})
		return
	}

	s.logger.Info("safety reset", "source", callerSource(r.Context()))
	writeJSON(w, http.StatusOK, status)
}
