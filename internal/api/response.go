package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"liveclass/internal/apperror"
)

// Envelope wraps every API response.
type Envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code          int    `json:"code"`
	Reason        string `json:"reason"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
}

func writeJSON(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) sendData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{OK: true, Data: data})
}

// sendError classifies err and writes the failure envelope. Internal
// causes are logged under the correlation id and never returned.
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperror.From(err)
	correlationID := uuid.NewString()
	status := appErr.HTTPStatus()

	attrs := []any{
		slog.String("correlation_id", correlationID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("reason", appErr.Reason),
		slog.Int("status", status),
	}
	if appErr.Err != nil {
		attrs = append(attrs, slog.String("err", appErr.Err.Error()))
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", attrs...)
	} else {
		s.logger.Debug("request rejected", attrs...)
	}

	writeJSON(w, status, Envelope{
		OK: false,
		Error: &ErrorBody{
			Code:          status,
			Reason:        appErr.Reason,
			Message:       appErr.Message,
			CorrelationID: correlationID,
		},
	})
}
