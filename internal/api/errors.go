package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-motion-core/internal/arbitration"
	"github.com/nerrad567/gray-motion-core/internal/motion"
)

// Error represents a structured error response. Owner is set when a
// request was refused because another execution holds a channel.
type Error struct {
	Status  int                `json:"status"`
	Code    string             `json:"code"`
	Message string             `json:"message"`
	Channel string             `json:"channel,omitempty"`
	Owner   *arbitration.Owner `json:"owner,omitempty"`
}

// Common error codes. Engine rejections use the codes from motion.Reason.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeInternal     = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeUnavailable writes a 503 error response for an optional subsystem
// that is not configured.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeMotionError writes an engine rejection with its machine-readable
// reason as the code.
func writeMotionError(w http.ResponseWriter, err error) {
	code := motion.Reason(err)
	body := Error{
		Status:  statusForReason(code),
		Code:    code,
		Message: err.Error(),
	}

	var busy *arbitration.BusyError
	if errors.As(err, &busy) {
		owner := busy.Owner
		body.Channel = busy.Channel
		body.Owner = &owner
	}
	writeJSON(w, body.Status, body)
}

// statusForReason maps a motion.Reason code to an HTTP status.
func statusForReason(code string) int {
	switch code {
	case motion.ReasonUnknownChannel, motion.ReasonInvalidCommand, motion.ReasonOutOfRange:
		return http.StatusBadRequest
	case motion.ReasonSequenceNotFound, motion.ReasonExecutionNotFound:
		return http.StatusNotFound
	case motion.ReasonChannelBusy, motion.ReasonArbitrationConflict, motion.ReasonViolationsStillActive:
		return http.StatusConflict
	case motion.ReasonEmergencyStopActive, motion.ReasonChannelFaulted:
		return http.StatusLocked
	case motion.ReasonArbitrationTimeout, motion.ReasonCancelled:
		return http.StatusServiceUnavailable
	case motion.ReasonHardwareWriteFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
