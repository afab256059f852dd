package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/annostore/internal/docservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// Document references are the trailing wildcard of each route.
func NewRouter(svc *docservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Documents.
	r.Get("/documents", h.ListDocuments)
	r.Get("/documents/*", h.GetDocument)
	r.Get("/history/*", h.History)

	// Annotations.
	r.Post("/annotations/*", h.AddAnnotation)
	r.Get("/annotation/{id}/*", h.GetAnnotation)
	r.Delete("/annotation/{id}/*", h.DeleteAnnotation)
	r.Get("/new-id/{prefix}/*", h.NewID)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
