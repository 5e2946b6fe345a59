package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/restopos-system/internal/middleware"
	"github.com/mmeshcher/restopos-system/internal/validation"
)

// SetupRouter настраивает HTTP-маршруты и middleware оркестратора заказов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/pos", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/orders", h.Checkout)
			r.Get("/orders", h.LiveOrders)

			r.Post("/orders/{name}/transition", h.Transition)
			r.Post("/orders/{name}/discount", h.Discount)

			r.Post("/coupons/verify", h.VerifyCoupon)

			r.Get("/tables", h.Tables)
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

func orderNameParam(r *http.Request) string {
	name := chi.URLParam(r, "name")
	if !validation.IsValidOrderName(name) {
		return ""
	}
	return name
}
