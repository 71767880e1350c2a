package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/socio/backend/internal/chat"
	"github.com/socio/backend/internal/connection"
	"github.com/socio/backend/internal/docstore"
	"github.com/socio/backend/internal/geomap"
	"github.com/socio/backend/internal/logging"
	"github.com/socio/backend/internal/validation"
)

var errBadBody = errors.New("api: malformed request body")

// statusFor maps domain errors to HTTP status codes. Anything unknown is a
// 500.
func statusFor(err error) int {
	var verrs validation.Errors
	switch {
	case errors.As(err, &verrs),
		errors.Is(err, errBadBody),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrMessageTooLong),
		errors.Is(err, chat.ErrInvalidUTF8),
		errors.Is(err, chat.ErrReplyNotFound),
		errors.Is(err, connection.ErrConnectionExists),
		errors.Is(err, connection.ErrSelfConnection),
		errors.Is(err, connection.ErrInvalidStatus),
		errors.Is(err, geomap.ErrInvalidLocation):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrUserMuted):
		return http.StatusForbidden
	case errors.Is(err, connection.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrMessageBlocked),
		errors.Is(err, geomap.ErrInappropriate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, docstore.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err as {"success":false,"message":...}. Client errors carry
// their own text; server errors are logged and replaced by fallback.
func fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
		respondError(w, status, fallback)
		return
	}
	respondError(w, status, clientMessage(err))
}

// clientMessage drops the "pkg: " prefix domain errors carry.
func clientMessage(err error) string {
	msg := err.Error()
	if pkg, rest, ok := strings.Cut(msg, ": "); ok && !strings.ContainsAny(pkg, " ;") {
		msg = rest
	}
	if msg == "" {
		return "Bad request"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
