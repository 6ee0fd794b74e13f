package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-motion-core/internal/audit"
	"github.com/nerrad567/gray-motion-core/internal/motion"
)

// motionRequest is the body for POST /motion.
type motionRequest struct {
	Targets    map[string]float64 `json:"targets"`
	DurationMS int                `json:"duration_ms"`
	Priority   int                `json:"priority"`
}

// handleSubmitMotion admits a manual multi-channel move. An identical move
// that is still running returns its existing execution with 200.
func (s *Server) handleSubmitMotion(w http.ResponseWriter, r *http.Request) {
	var req motionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Targets) == 0 {
		writeBadRequest(w, "targets is required")
		return
	}
	if req.DurationMS < 0 {
		writeBadRequest(w, "duration_ms must not be negative")
		return
	}

	adm, err := s.engine.Submit(r.Context(), motion.MotionCommand{
		Targets:     req.Targets,
		Duration:    time.Duration(req.DurationMS) * time.Millisecond,
		Priority:    req.Priority,
		Origin:      motion.OriginManual,
		Source:      callerSource(r.Context()),
		SubmittedAt: time.Now(),
	})
	if err != nil {
		s.logger.Debug("motion command rejected", "reason", motion.Reason(err))
		writeMotionError(w, err)
		return
	}

	status := http.StatusAccepted
	if adm.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, adm)
}

// handleCancelExecution cancels a live execution. Its channels hold their
// last position.
func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid execution ID")
		return
	}

	err := s.engine.Cancel(r.Context(), id)
	s.audit.record(r.Context(), callerEntry(r.Context(), audit.ActionCancel, id, err))
	if err != nil {
		writeMotionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
