package orders

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/generate", h.Generate)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/assign", h.Assign)
	r.Post("/{id}/start", h.Start)
	r.Post("/{id}/complete", h.Complete)
	r.Post("/{id}/deliver", h.Deliver)
	r.Get("/{id}/delivery", h.Delivery)
}
