/*
server.go - HTTP router configuration

PURPOSE:
  Wires the chi router: middleware, CORS, and the /api route tree.

SEE ALSO:
  - handlers.go: Endpoint implementations
  - cmd/server/main.go: Server startup and shutdown
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the HTTP router for the engine API. corsOrigins lists
// the allowed browser origins; empty means allow all.
func NewRouter(h *Handler, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.SaveProduct)
			r.Get("/{id}", h.GetProduct)
			r.Get("/{id}/counts", h.GetProductCounts)
		})

		r.Route("/warehouses", func(r chi.Router) {
			r.Get("/", h.ListWarehouses)
			r.Post("/", h.SaveWarehouse)
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", h.ListBookings)
			r.Post("/", h.CreateBooking)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetBooking)
				r.Delete("/", h.DeleteBooking)
				r.Post("/lines", h.AddLine)
				r.Put("/lines/{lineID}", h.UpdateLine)

				r.Post("/confirm", h.Confirm)
				r.Post("/book", h.Book)
				r.Post("/start", h.Start)
				r.Post("/finish", h.Finish)
				r.Post("/return", h.Return)
				r.Post("/cancel", h.Cancel)

				r.Get("/availability", h.BookingGrid)
			})
		})

		r.Get("/availability", h.GlobalGrid)
		r.Get("/nudges", h.ListNudges)
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
