package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/socio/backend/internal/chat"
	"github.com/socio/backend/internal/connection"
	"github.com/socio/backend/internal/geomap"
	"github.com/socio/backend/internal/logging"
	"github.com/socio/backend/internal/validation"
)

type channelQuery struct {
	Channel string `json:"channel" validate:"omitempty,slug"`
}

func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	q := channelQuery{Channel: r.URL.Query().Get("channel")}
	if err := validation.Struct(q); err != nil {
		fail(w, r, err, "")
		return
	}
	msgs, err := h.Chat.List(r.Context(), q.Channel)
	if err != nil {
		fail(w, r, err, "Failed to fetch messages")
		return
	}
	respondJSON(w, http.StatusOK, msgs)
}

func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req chat.SendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err, "")
		return
	}
	msg, err := h.Chat.Send(r.Context(), req)
	if err != nil {
		fail(w, r, err, "Failed to send message")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

func (h *handler) listPins(w http.ResponseWriter, r *http.Request) {
	pins, err := h.Map.List(r.Context())
	if err != nil {
		fail(w, r, err, "Failed to fetch map data")
		return
	}
	respondJSON(w, http.StatusOK, pins)
}

func (h *handler) addPin(w http.ResponseWriter, r *http.Request) {
	var pin geomap.Pin
	if err := decodeJSON(w, r, &pin); err != nil {
		fail(w, r, err, "")
		return
	}
	saved, err := h.Map.Add(r.Context(), pin)
	if err != nil {
		fail(w, r, err, "Failed to add location")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"success": true, "data": saved})
}

func (h *handler) requestConnection(w http.ResponseWriter, r *http.Request) {
	var req connection.Request
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err, "")
		return
	}
	conn, err := h.Connections.Request(r.Context(), req)
	if err != nil {
		fail(w, r, err, "Failed to create connection")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"success": true, "connection": conn})
}

func (h *handler) updateConnection(w http.ResponseWriter, r *http.Request) {
	var body connection.StatusUpdate
	if err := decodeJSON(w, r, &body); err != nil {
		fail(w, r, err, "")
		return
	}
	conn, err := h.Connections.UpdateStatus(r.Context(), chi.URLParam(r, "id"), body.Status)
	if err != nil {
		fail(w, r, err, "Failed to update connection")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "connection": conn})
}

func (h *handler) userConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.Connections.ForUser(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		fail(w, r, err, "Failed to fetch connections")
		return
	}
	respondJSON(w, http.StatusOK, conns)
}

func (h *handler) talks(w http.ResponseWriter, r *http.Request) {
	talks, err := h.Content.Talks(r.Context())
	if err != nil {
		fail(w, r, err, "Failed to fetch content")
		return
	}
	respondJSON(w, http.StatusOK, talks)
}

func (h *handler) ngos(w http.ResponseWriter, r *http.Request) {
	ngos, err := h.Content.NGOs(r.Context())
	if err != nil {
		fail(w, r, err, "Failed to fetch NGOs")
		return
	}
	respondJSON(w, http.StatusOK, ngos)
}

func (h *handler) passionQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := h.Catalog.Questions(r.Context())
	if err != nil {
		fail(w, r, err, "Failed to fetch questions")
		return
	}
	respondJSON(w, http.StatusOK, qs)
}

// passionProfiles lists the live corpus, or the bundled one when the store
// is down or empty.
func (h *handler) passionProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.Catalog.Profiles(r.Context())
	if err != nil || len(profiles) == 0 {
		if err != nil {
			logging.Warn().Err(err).Msg("passion profiles unavailable, serving defaults")
		}
		profiles = h.Matcher.Defaults()
	}
	respondJSON(w, http.StatusOK, profiles)
}

type matchRequest struct {
	Responses []string `json:"responses" validate:"max=100,dive,max=64"`
}

// passionMatch always answers with a profile; the tier that produced it is
// reported in headers. Only a build without any corpus fails.
func (h *handler) passionMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	// An empty body is an empty answer sheet.
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		fail(w, r, err, "")
		return
	}
	if err := validation.Struct(req); err != nil {
		fail(w, r, err, "")
		return
	}
	res, err := h.Matcher.Match(r.Context(), req.Responses)
	if err != nil {
		// Match only fails with passion.ErrEmptyCorpus.
		logging.Error().Err(err).Msg("passion match failed")
		respondError(w, http.StatusInternalServerError, "Failed to match passion")
		return
	}
	w.Header().Set("X-Passion-Outcome", res.Outcome.String())
	w.Header().Set("X-Passion-Corpus", string(res.Corpus))
	respondJSON(w, http.StatusOK, res.Profile)
}
