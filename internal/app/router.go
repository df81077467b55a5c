package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-tours/meridian/internal/bookings"
	"github.com/meridian-tours/meridian/internal/discounts"
	"github.com/meridian-tours/meridian/internal/orders"
	"github.com/meridian-tours/meridian/internal/proposals"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	ProposalsHandler *proposals.Handler
	BookingsHandler  *bookings.Handler
	DiscountsHandler *discounts.Handler
	OrdersHandler    *orders.Handler
	Pool             *pgxpool.Pool
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(api chi.Router) {
		if params.ProposalsHandler != nil {
			params.ProposalsHandler.MountRoutes(api)
		}
		if params.BookingsHandler != nil {
			params.BookingsHandler.MountRoutes(api)
		}
		if params.DiscountsHandler != nil {
			params.DiscountsHandler.MountRoutes(api)
		}
		if params.OrdersHandler != nil {
			params.OrdersHandler.MountRoutes(api)
		}
	})

	return r
}
