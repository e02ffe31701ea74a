package catalog

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/clients/{id}", h.Client)
	r.Get("/items/{id}", h.Item)
	r.Get("/technicians/{id}", h.Technician)
	r.Get("/registers/{id}", h.Register)
	r.Get("/config", h.Config)
}
