package handlers

import (
	"net/http"

	"github.com/milkyano/barber-core/services/auth/internal/domain"
)

// MyProfile returns the caller's customer profile
func (h *Handlers) MyProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.customerService.GetProfile(r.Context(), getClaims(r).Subject)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"user": profile})
}

// UpdateMyProfile changes the caller's name or email
func (h *Handlers) UpdateMyProfile(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	profile, err := h.customerService.UpdateProfile(r.Context(), getClaims(r).Subject, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"user": profile})
}

// MyBookings lists the caller's bookings on the booking platform.
// Query: startDate, endDate (RFC 3339), status.
func (h *Handlers) MyBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := domain.ParseBookingFilter(q.Get("startDate"), q.Get("endDate"), q.Get("status"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	bookings, err := h.customerService.ListBookings(r.Context(), getClaims(r).Subject, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": bookings})
}

func (h *Handlers) MyStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.customerService.Statistics(r.Context(), getClaims(r).Subject)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
