package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/milkyano/barber-core/services/auth/internal/domain"
)

const (
	credentialRateLimit  = 20
	credentialRateWindow = time.Minute
)

// Routes mounts every auth service endpoint on r.
func (h *Handlers) Routes(r chi.Router) {
	limited := h.RateLimitByIP("auth", credentialRateLimit, credentialRateWindow)

	r.Route("/auth", func(r chi.Router) {
		r.With(limited).Post("/register", h.Register)
		r.With(h.RequireSecretKey).Post("/register-admin", h.RegisterAdmin)
		r.With(limited).Post("/login", h.Login)
		r.With(limited).Post("/forgot-password", h.ForgotPassword)
		r.With(limited).Post("/refresh", h.RefreshToken)

		r.With(limited, h.OptionalJWT).Post("/request-otp", h.RequestOTP)
		r.With(limited, h.OptionalJWT).Post("/verify-otp", h.VerifyOTP)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireJWT(""))
			r.Get("/me", h.Me)
			r.Put("/password", h.UpdatePassword)
		})
	})

	r.Route("/customers/me", func(r chi.Router) {
		r.Use(h.RequireJWT(domain.RoleCustomer))
		r.Get("/profile", h.MyProfile)
		r.Put("/profile", h.UpdateMyProfile)

		r.Group(func(r chi.Router) {
			r.Use(RequireVerified)
			r.Get("/bookings", h.MyBookings)
			r.Get("/statistics", h.MyStatistics)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.RequireJWT(domain.RoleAdmin))
		r.Get("/users", h.ListUsers)
		r.Delete("/users/{id}", h.DeleteUser)
	})
}

// NotFound keeps unknown routes in the same error shape.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Route not found", "NOT_FOUND")
}
