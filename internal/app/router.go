package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserve-erp/fieldserve-erp/internal/cashbox"
	"github.com/fieldserve-erp/fieldserve-erp/internal/catalog"
	"github.com/fieldserve-erp/fieldserve-erp/internal/observability"
	"github.com/fieldserve-erp/fieldserve-erp/internal/orders"
	"github.com/fieldserve-erp/fieldserve-erp/internal/payments"
	"github.com/fieldserve-erp/fieldserve-erp/internal/requests"
	"github.com/fieldserve-erp/fieldserve-erp/jobs"
)

// RouterParams carries everything the HTTP router needs.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Pool    *pgxpool.Pool
	Metrics *observability.Metrics

	RequestsHandler *requests.Handler
	OrdersHandler   *orders.Handler
	PaymentsHandler *payments.Handler
	CashboxHandler  *cashbox.Handler
	CatalogHandler  *catalog.Handler
	JobsHandler     *jobs.Handler
}

// NewRouter wires the middleware stack and mounts every domain surface.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: params.Logger, Config: params.Config, Metrics: params.Metrics}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Error("health check failed", slog.Any("error", err))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/requests", params.RequestsHandler.MountRoutes)
	r.Route("/orders", params.OrdersHandler.MountRoutes)
	r.Route("/payments", params.PaymentsHandler.MountRoutes)
	r.Route("/cashbox", params.CashboxHandler.MountRoutes)
	r.Route("/catalog", params.CatalogHandler.MountRoutes)
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	return r
}
