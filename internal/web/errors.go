package web

// errors.go maps domain errors onto HTTP responses.
//
// The error flow:
//  1. Handler encounters an error and calls s.respondError(w, r, err)
//  2. statusFor classifies it by type (404, 400, 413, 503, 504 or 500)
//  3. core.MapError supplies the client-facing message, action and code
//  4. The technical error is logged with the request id for correlation
//
// Clients never see storage error text; not-found and validation errors
// describe the caller's own input and are returned verbatim in "error".

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/tableapi/internal/core"
	"github.com/JonMunkholm/tableapi/internal/logging"
	"github.com/JonMunkholm/tableapi/internal/web/middleware"
)

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, core.ErrTooLarge), errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case core.IsNotFound(err):
		return http.StatusNotFound
	case core.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrIngestBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the error envelope.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", msg.Code,
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError {
		var storageErr *core.StorageError
		if errors.As(err, &storageErr) && storageErr.Err != nil {
			attrs = append(attrs, "cause", storageErr.Err.Error())
		}
		logger.Error("request error", attrs...)
	} else {
		logger.Info("request rejected", attrs...)
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	detail := core.SafeDetail(err)
	if status == http.StatusRequestEntityTooLarge {
		detail = msg.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	s.encode(w, r, middleware.ErrorBody{
		Error:   detail,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}
