package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/example/cab-dispatch/internal/apperr"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInvalid:
		return http.StatusBadRequest
	case apperr.KindExpired, apperr.KindExhausted, apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError is the only place an error kind becomes a status code.
// Upstream and internal causes are logged and replaced with generic text.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	msg := apperr.Message(err, "internal error")
	switch kind {
	case apperr.KindUpstream:
		msg = "verification service unavailable"
		s.logger.Error("upstream failure", "error", err, "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()))
	case apperr.KindInternal:
		msg = "internal error"
		s.logger.Error("request failed", "error", err, "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()))
	}
	writeJSON(w, statusFor(kind), errorBody{Error: msg, Code: kind.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalid("request body is required")
		}
		return apperr.Wrap(apperr.KindInvalid, "malformed JSON body", err)
	}
	return nil
}
