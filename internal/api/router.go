package api

import (
	"net/http"
	"time"

	// This blank import is required by swaggo to find the API definitions.
	_ "attune/backend/docs"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// RouterConfig carries the transport-level knobs the router needs.
type RouterConfig struct {
	JWTSecret    string
	AuthRequired bool
}

// NewRouter creates and configures a chi router with all application routes.
func NewRouter(chatHandler *ChatHandler, eventsHandler *EventsHandler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware, applied to every request.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Swagger UI for API documentation.
	r.Get("/api/swagger/*", httpSwagger.WrapHandler)

	// Liveness/readiness probe.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticator(cfg.JWTSecret, cfg.AuthRequired))

		// Standard JSON endpoints get a request timeout so client
		// connections can't hang indefinitely.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/settings", chatHandler.GetSettings)
			r.Put("/settings", chatHandler.UpdateSettings)

			r.Get("/conversations", chatHandler.GetConversations)
			r.Get("/conversations/{conversationID}", chatHandler.GetConversation)
			r.Get("/conversations/{conversationID}/messages", chatHandler.GetMessages)
			r.Delete("/conversations/{conversationID}", chatHandler.HandleDeleteConversation)
		})

		// Long-running endpoints must NOT have a timeout. The submission
		// endpoint waits on a language-model round trip; the event stream
		// holds its connection open indefinitely.
		r.Group(func(r chi.Router) {
			r.Post("/messages", chatHandler.HandleSendMessage)
			r.Get("/conversations/{conversationID}/events", eventsHandler.HandleEvents)
		})
	})

	return r
}
