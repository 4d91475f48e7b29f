package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/billing-panel/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware панели.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/customers", h.GetCustomers)
			r.Post("/customers", h.AddCustomer)
			r.Put("/customers/{id}", h.UpdateCustomer)
			r.Delete("/customers/{id}", h.DeleteCustomer)
			r.Post("/customers/{id}/confirm", h.ConfirmPayment)
			r.Post("/customers/{id}/proof", h.UploadProof)
			r.Get("/customers/{id}/payments", h.GetCustomerPayments)

			r.Get("/credits", h.GetCredits)
			r.Post("/credits/purchases", h.RegisterPurchase)
			r.Put("/credits/purchases/{id}", h.EditPurchase)
			r.Delete("/credits/purchases/{id}", h.DeletePurchase)

			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.UpdateSettings)

			r.Get("/dashboard", h.GetDashboard)
			r.Get("/payments/export", h.ExportPayments)
		})
	})

	if h.attachmentsDir != "" {
		fs := http.StripPrefix("/attachments/", http.FileServer(http.Dir(h.attachmentsDir)))
		r.Get("/attachments/*", fs.ServeHTTP)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
