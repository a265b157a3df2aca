// Package www serves the terminal UI's local JSON API and event stream.
package www

import (
	"net/http"

	"stationedge/engine"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine   *engine.Engine
	sessions *sessionStore
	eventHub *EventHub
}

// NewRouter creates the chi router and returns it along with a stop function.
func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret, eng.DB()),
		eventHub: NewEventHub(),
	}

	h.eventHub.SetupEngineListeners(eng)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// SSE (no auth, counter terminal)
	r.Get("/events", h.eventHub.HandleSSE)

	// Admin login/logout
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5))

		// Counter API (staff actions)
		r.Get("/status", h.apiStatus)
		r.Get("/queues", h.apiListQueues)
		r.Get("/queues/{destination}", h.apiGetQueue)
		r.Post("/refresh", h.apiRefresh)

		r.Get("/selection", h.apiGetSelection)
		r.Put("/selection", h.apiSetSelection)
		r.Delete("/selection", h.apiClearSelection)
		r.Post("/bookings", h.apiBook)

		r.Post("/vehicles/{plate}/enter", h.apiEnterQueue)
		r.Post("/vehicles/{plate}/exit", h.apiExitQueue)
		r.Put("/vehicles/{plate}/status", h.apiUpdateStatus)

		r.Get("/exit-passes", h.apiListExitPasses)
		r.Post("/exit-passes/{destination}/{plate}/confirm", h.apiConfirmExit)
		r.Post("/exit-passes/{destination}/{plate}/reprint", h.apiReprintExit)
		r.Post("/exit-passes/{destination}/{plate}/close", h.apiCloseExit)
		r.Post("/exit-passes/{destination}/{plate}/reopen", h.apiReopenExit)

		r.Post("/session", h.apiStaffLogin)
		r.Delete("/session", h.apiStaffLogout)

		// Admin API (station setup and history)
		r.Group(func(r chi.Router) {
			r.Use(h.adminMiddleware)

			r.Get("/config", h.apiGetConfig)
			r.Put("/config/server", h.apiUpdateServer)
			r.Put("/config/messaging", h.apiUpdateMessaging)
			r.Post("/config/password", h.apiChangePassword)

			r.Get("/exits", h.apiListExits)
			r.Get("/lifecycle-log", h.apiListLifecycleLog)
			r.Get("/outbox", h.apiOutboxStatus)
		})
	})

	return r, func() {
		h.eventHub.Stop()
	}
}

func (h *Handlers) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := h.sessions.getUser(r); !ok {
			writeError(w, http.StatusUnauthorized, "admin login required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
