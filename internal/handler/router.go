package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/bonyad-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/plate", func(r chi.Router) {
		r.Post("/check-eligibility", h.CheckEligibility)
		r.Post("/upload", h.UploadPlate)
		r.Post("/verify/{scanID}", h.VerifyScan)
		r.Get("/status/{scanID}", h.GetScanStatus)
	})

	r.Route("/api/guest", func(r chi.Router) {
		r.Get("/offers", h.ListOffers)
		r.Post("/scan", h.ClaimReward)
		r.Get("/qr/{restaurantID}", h.GenerateRestaurantQR)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(custommiddleware.RequireAdmin)

		r.Get("/scans", h.ListScans)
		r.Get("/metrics", h.GetDashboardMetrics)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
