package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/inkth/jifou/internal/util"
	"github.com/inkth/jifou/services/journal/internal/app"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeFor(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, app.ErrUnauthorized.Error())
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// writeAppError maps app sentinels onto statuses. Unknown errors are logged
// and answered with a generic 500.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrUnauthorized):
		writeUnauthorized(w)
	case errors.Is(err, app.ErrInvalidOTP):
		writeError(w, http.StatusUnauthorized, app.ErrInvalidOTP.Error())
	case errors.Is(err, app.ErrUserInactive):
		writeError(w, http.StatusForbidden, app.ErrUserInactive.Error())
	case errors.Is(err, app.ErrOTPRateLimited):
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, app.ErrOTPRateLimited.Error())
	case errors.Is(err, app.ErrReportNotFound):
		writeError(w, http.StatusNotFound, reportNotFoundMessage)
	case errors.Is(err, app.ErrInvalidPhone),
		errors.Is(err, app.ErrInvalidRecord),
		errors.Is(err, app.ErrInvalidProfile),
		errors.Is(err, app.ErrInvalidDate),
		errors.Is(err, app.ErrInvalidLimit):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func errorCodeFor(status int, msg string) string {
	switch msg {
	case app.ErrInvalidOTP.Error():
		return "AUTH_OTP_INVALID"
	case app.ErrOTPRateLimited.Error():
		return "AUTH_OTP_RATE_LIMITED"
	case app.ErrUserInactive.Error():
		return "AUTH_USER_INACTIVE"
	case reportNotFoundMessage:
		return "REPORT_NOT_FOUND"
	case "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	}

	switch status {
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusUnprocessableEntity:
		return "REQUEST_VALIDATION_FAILED"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "SYSTEM_RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
