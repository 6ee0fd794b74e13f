package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-motion-core/internal/audit"
	"github.com/nerrad567/gray-motion-core/internal/history"
)

// parseHistoryFilter reads limit, offset, sequence and outcome query
// parameters.
func parseHistoryFilter(r *http.Request) (history.Filter, bool) {
	q := r.URL.Query()
	f := history.Filter{
		SequenceID: q.Get("sequence"),
		Outcome:    q.Get("outcome"),
	}
	if len(f.SequenceID) > maxQueryParamLen || len(f.Outcome) > maxQueryParamLen {
		return f, false
	}
	for key, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, false
		}
		*dst = n
	}
	return f, true
}

// handleHistoryExecutions returns recorded executions, newest first.
func (s *Server) handleHistoryExecutions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history database not enabled")
		return
	}
	filter, ok := parseHistoryFilter(r)
	if !ok {
		writeBadRequest(w, "invalid query parameters")
		return
	}

	executions, err := s.history.ListExecutions(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list execution history", "error", err)
		writeInternalError(w, "failed to list executions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": executions,
		"count":      len(executions),
	})
}

// handleHistoryIncidents returns recorded safety transitions, newest first.
func (s *Server) handleHistoryIncidents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history database not enabled")
		return
	}
	filter, ok := parseHistoryFilter(r)
	if !ok {
		writeBadRequest(w, "invalid query parameters")
		return
	}

	incidents, err := s.history.ListIncidents(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list safety incidents", "error", err)
		writeInternalError(w, "failed to list incidents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

// handleHistoryPrune deletes finished history older than the older_than
// duration (for example "720h").
func (s *Server) handleHistoryPrune(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history database not enabled")
		return
	}
	olderThan, err := time.ParseDuration(r.URL.Query().Get("older_than"))
	if err != nil || olderThan <= 0 {
		writeBadRequest(w, "older_than must be a positive duration")
		return
	}

	removed, err := s.history.Prune(r.Context(), olderThan)
	entry := callerEntry(r.Context(), audit.ActionHistoryPrune, olderThan.String(), err)
	if err == nil {
		entry.Details = map[string]any{"removed": removed}
	}
	s.audit.record(r.Context(), entry)
	if err != nil {
		s.logger.Error("failed to prune history", "error", err)
		writeInternalError(w, "failed to prune history")
		return
	}
	s.logger.Info("history pruned", "older_than", olderThan, "removed", removed, "source", callerSource(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
