package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/hotelbooking/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса бронирования.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/bookings", h.GetBookings)
		r.Get("/payments", h.GetPayments)
		r.Get("/reviews", h.GetReviews)
		r.Get("/loyalty", h.GetLoyalty)
		r.Get("/loyalty/history", h.GetLoyaltyHistory)

		r.Group(func(r chi.Router) {
			r.Use(h.rateLimiter.Middleware)

			r.Post("/bookings", h.CreateBooking)
			r.Post("/payments", h.CreatePayment)
			r.Post("/reviews", h.SubmitReview)
			r.Post("/loyalty/redeem", h.RedeemPoints)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
