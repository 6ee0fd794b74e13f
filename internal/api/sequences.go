package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-motion-core/internal/audit"
	"github.com/nerrad567/gray-motion-core/internal/motion"
	"github.com/nerrad567/gray-motion-core/internal/sequence"
)

// maxQueryParamLen limits path and query parameter length.
const maxQueryParamLen = 100

// sequenceSummary is one entry of GET /sequences.
type sequenceSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Priority    int      `json:"priority"`
	Steps       int      `json:"steps"`
	DurationMS  int64    `json:"duration_ms"`
	Channels    []string `json:"channels"`
}

// executeRequest is the optional body for POST /sequences/{id}/execute.
type executeRequest struct {
	Priority int `json:"priority"`
}

// handleListSequences returns a summary of every catalog sequence.
func (s *Server) handleListSequences(w http.ResponseWriter, _ *http.Request) {
	list := s.sequences.Library().List()
	out := make([]sequenceSummary, 0, len(list))
	for i := range list {
		seq := &list[i]
		out = append(out, sequenceSummary{
			ID:          seq.ID,
			Name:        seq.Name,
			Description: seq.Description,
			Priority:    seq.Priority,
			Steps:       len(seq.Steps),
			DurationMS:  seq.Duration().Milliseconds(),
			Channels:    seq.Channels(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sequences": out,
		"count":     len(out),
	})
}

// handleGetSequence returns one sequence with its steps.
func (s *Server) handleGetSequence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid sequence ID")
		return
	}

	seq, err := s.sequences.Get(id)
	if err != nil {
		if errors.Is(err, sequence.ErrSequenceNotFound) {
			writeNotFound(w, "sequence not found")
			return
		}
		writeInternalError(w, "failed to get sequence")
		return
	}
	writeJSON(w, http.StatusOK, seq)
}

// handleExecuteSequence admits a catalog sequence and returns its
// admission. Motion starts on the next control tick; progress arrives via
// WebSocket.
func (s *Server) handleExecuteSequence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid sequence ID")
		return
	}

	var req executeRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}
	if req.Priority < 0 || req.Priority > 100 {
		writeBadRequest(w, "priority must be between 1 and 100")
		return
	}

	adm, err := s.engine.Execute(r.Context(), id, motion.ExecuteOptions{
		Priority: req.Priority,
		Origin:   motion.OriginSequence,
		Source:   callerSource(r.Context()),
	})
	s.audit.record(r.Context(), callerEntry(r.Context(), audit.ActionExecute, id, err))
	if err != nil {
		s.logger.Debug("sequence rejected", "sequence", id, "reason", motion.Reason(err))
		writeMotionError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, adm)
}
