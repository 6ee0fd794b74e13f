package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-motion-core/internal/audit"
	"github.com/nerrad567/gray-motion-core/internal/infrastructure/logging"
)

// auditTrail records operator actions. A nil repository records nothing.
// Recording never fails the request; errors are logged.
type auditTrail struct {
	repo   audit.Repository
	logger *logging.Logger
}

func (t auditTrail) record(ctx context.Context, e audit.Entry) {
	if t.repo == nil {
		return
	}
	if err := t.repo.Create(context.WithoutCancel(ctx), &e); err != nil && t.logger != nil {
		t.logger.Warn("failed to record audit entry", "action", e.Action, "error", err)
	}
}

// callerEntry starts an audit entry for the authenticated caller.
func callerEntry(ctx context.Context, action, target string, err error) audit.Entry {
	e := audit.Entry{
		Action:  action,
		Source:  callerSource(ctx),
		Target:  target,
		Success: err == nil,
	}
	if claims := claimsFromContext(ctx); claims != nil {
		e.Operator = claims.Subject
	}
	if err != nil {
		e.Details = map[string]any{"error": err.Error()}
	}
	return e
}

// handleListAudit returns recorded operator actions, newest first.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit.repo == nil {
		writeUnavailable(w, "audit trail not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		Operator: q.Get("operator"),
	}
	if len(filter.Action) > maxQueryParamLen || len(filter.Operator) > maxQueryParamLen {
		writeBadRequest(w, "invalid query parameters")
		return
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "invalid query parameters")
			return
		}
		*dst = n
	}

	result, err := s.audit.repo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// truncate bounds untrusted input before it is stored.
func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
