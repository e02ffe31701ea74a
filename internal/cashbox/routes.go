package cashbox

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sessions", h.Open)
	r.Get("/sessions/current", h.Current)
	r.Get("/sessions/{id}", h.Get)
	r.Get("/sessions/{id}/summary", h.Summary)
	r.Post("/sessions/{id}/movements", h.Movement)
	r.Post("/sessions/{id}/close", h.Close)
}
