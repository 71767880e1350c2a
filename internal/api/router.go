// Package api is the HTTP surface of the socio backend: chat, map pins,
// connections, curated content, the passion quiz, the websocket relay and
// Prometheus metrics, routed with chi.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/socio/backend/internal/chat"
	"github.com/socio/backend/internal/connection"
	"github.com/socio/backend/internal/content"
	"github.com/socio/backend/internal/geomap"
	"github.com/socio/backend/internal/metrics"
	"github.com/socio/backend/internal/passion"
	"github.com/socio/backend/internal/ratelimit"
)

// PassionCatalog serves the quiz and the browsable profile list.
type PassionCatalog interface {
	Questions(ctx context.Context) ([]passion.Question, error)
	Profiles(ctx context.Context) ([]passion.Profile, error)
}

// Deps are the services behind the routes. Relay may be nil, in which case
// /ws is not mounted.
type Deps struct {
	Chat        *chat.Service
	Connections *connection.Service
	Map         *geomap.Service
	Content     *content.Service
	Matcher     *passion.Matcher
	Catalog     PassionCatalog
	Relay       http.Handler
}

type handler struct {
	Deps
}

// NewRouter wires every route.
func NewRouter(deps Deps, mw *Middleware) http.Handler {
	if mw == nil {
		mw = NewMiddleware(nil, nil)
	}
	h := &handler{Deps: deps}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(Metrics)

		r.Get("/health", h.health)

		r.Get("/messages", h.listMessages)
		r.With(mw.Limit(ratelimit.RuleMessage, byUserOrIP)).Post("/send-message", h.sendMessage)

		r.Get("/map", h.listPins)
		r.With(mw.Limit(ratelimit.RuleWrite, byUserOrIP)).Post("/map", h.addPin)

		r.Route("/connections", func(r chi.Router) {
			r.Use(mw.Limit(ratelimit.RuleWrite, byUserOrIP))
			r.Post("/", h.requestConnection)
			r.Put("/{id}", h.updateConnection)
		})
		r.Get("/users/{userId}/connections", h.userConnections)

		r.Get("/content", h.talks)
		r.Get("/action-hub", h.ngos)

		r.Route("/passion", func(r chi.Router) {
			r.Get("/questions", h.passionQuestions)
			r.Get("/profiles", h.passionProfiles)
			r.With(mw.Limit(ratelimit.RuleMatch, byUserOrIP)).Post("/match", h.passionMatch)
		})
	})

	if deps.Relay != nil {
		r.With(mw.Limit(ratelimit.RuleConnect, ratelimit.ByIP)).Method(http.MethodGet, "/ws", deps.Relay)
	}
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}
