package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const AdminSecretHeader = "X-Admin-Secret"

func RegisterHooksRoutes(r chi.Router, h *HooksHandler, adminSecret string) {
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireAdminSecret(adminSecret))

		r.Route("/queues", func(r chi.Router) {
			r.Post("/", h.CreateQueue)
			r.Get("/", h.ListQueues)
			r.Get("/{id}", h.GetQueue)
			r.Post("/{id}/messages", h.Enqueue)
			r.Post("/{id}/messages/batch", h.EnqueueBatch)
			r.Get("/{id}/messages", h.ListMessages)
		})
		r.Get("/messages/{id}", h.GetMessage)

		r.Route("/crons", func(r chi.Router) {
			r.Post("/", h.CreateCron)
			r.Get("/", h.ListCrons)
			r.Get("/{id}", h.GetCron)
		})
	})
}

// RequireAdminSecret rejects requests whose X-Admin-Secret does not match.
// An empty secret disables the check.
func RequireAdminSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				got := r.Header.Get(AdminSecretHeader)
				if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
