package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/quote-engine/internal/metrics"
)

// NewRouter mounts the service routes. hub may be nil, in which case no
// WebSocket endpoint is served.
func NewRouter(svc *Service, hub *WSHub) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", svc.Health)

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for snapshot streaming; long-lived, so it sits
		// outside the request timeout.
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Live quotes.
			r.Get("/quotes", svc.ListQuotes)
			r.Get("/quotes/{symbol}", svc.GetQuote)
			r.Get("/symbols", svc.ListSymbols)

			// Account views.
			r.Get("/accounts/{accountID}/orders", svc.ListOrders)
			r.Get("/accounts/{accountID}/positions", svc.ListPositions)
			r.Get("/accounts/{accountID}/portfolio", svc.GetPortfolio)
		})
	})
	return r
}

// cors allows frontend cross-origin requests.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
