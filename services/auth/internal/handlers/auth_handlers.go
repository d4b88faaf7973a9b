package handlers

import (
	"net/http"

	"github.com/milkyano/barber-core/services/auth/internal/domain"
)

// Register handles customer registration
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	response, err := h.authService.Register(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, response)
}

// RegisterAdmin handles administrator registration behind X-Secret-Key
func (h *Handlers) RegisterAdmin(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.authService.RegisterAdmin(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Admin registered successfully",
		"user":    user,
	})
}

// Login handles password authentication by email or phone
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	response, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// RequestOTP sends a code. With a bearer token it starts a phone change for
// the caller, otherwise an OTP login for an existing customer.
func (h *Handlers) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req domain.RequestOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var err error
	if claims := getClaims(r); claims != nil {
		err = h.authService.RequestOTPForPhoneChange(r.Context(), claims.Subject, req.PhoneNumber)
	} else {
		err = h.authService.RequestOTPForLogin(r.Context(), req.PhoneNumber)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.MessageResponse{Message: "OTP sent successfully"})
}

// ForgotPassword sends a login code so the user can set a new password
func (h *Handlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req domain.RequestOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.authService.ForgotPassword(r.Context(), req.PhoneNumber); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.MessageResponse{Message: "OTP sent successfully"})
}

// VerifyOTP confirms a code. The caller's token, if any, selects the phone
// change flow.
func (h *Handlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var (
		response *domain.AuthResponse
		err      error
	)
	if claims := getClaims(r); claims != nil {
		response, err = h.authService.VerifyOTPForPhoneChange(r.Context(), claims.Subject, &req)
	} else {
		response, err = h.authService.VerifyOTPForLogin(r.Context(), &req)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// RefreshToken exchanges a refresh token for a new access token
func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req domain.RefreshTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh token is required", "INVALID_INPUT")
		return
	}

	access, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, access)
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	claims := getClaims(r)

	user, err := h.authService.GetMe(r.Context(), claims.Subject)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

func (h *Handlers) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdatePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims := getClaims(r)
	if err := h.authService.UpdatePassword(r.Context(), claims.Subject, req.Password); err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
