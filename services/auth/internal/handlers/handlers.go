package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/milkyano/barber-core/pkg/auth"
	"github.com/milkyano/barber-core/pkg/logger"
	"github.com/milkyano/barber-core/pkg/phone"
	"github.com/milkyano/barber-core/services/auth/internal/domain"
	"github.com/milkyano/barber-core/services/auth/internal/repository"
	"github.com/milkyano/barber-core/services/auth/internal/service"
)

type Handlers struct {
	authService     service.AuthService
	customerService service.CustomerService
	tokens          *auth.Issuer
	rateLimitRepo   repository.RateLimitRepository
	adminSecret     string
}

func New(
	authService service.AuthService,
	customerService service.CustomerService,
	tokens *auth.Issuer,
	rateLimitRepo repository.RateLimitRepository,
	adminSecret string,
) *Handlers {
	return &Handlers{
		authService:     authService,
		customerService: customerService,
		tokens:          tokens,
		rateLimitRepo:   rateLimitRepo,
		adminSecret:     adminSecret,
	}
}

type contextKey string

const claimsKey contextKey = "claims"

const maxBodyBytes = 1 << 20

// RequireJWT rejects requests without a valid access token. A non-empty
// requiredRole must match the token's role exactly.
func (h *Handlers) RequireJWT(requiredRole domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Missing or invalid authorization header", "UNAUTHORIZED")
				return
			}

			claims, err := h.tokens.VerifyAccess(token)
			if err != nil {
				logger.DebugContext(r.Context(), "Access token rejected", "reason", err)
				writeError(w, http.StatusUnauthorized, "Invalid token", "INVALID_TOKEN")
				return
			}

			if requiredRole != "" && claims.Role != string(requiredRole) {
				writeError(w, http.StatusForbidden, "Insufficient permissions", "FORBIDDEN")
				return
			}

			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// OptionalJWT attaches claims when a bearer token is sent. A token that is
// sent but invalid is rejected rather than treated as anonymous.
func (h *Handlers) OptionalJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		h.RequireJWT("")(next).ServeHTTP(w, r)
	})
}

// RequireVerified must run after RequireJWT.
func RequireVerified(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := getClaims(r)
		if claims == nil || !claims.IsVerified {
			writeError(w, http.StatusForbidden, "Please verify your phone number first", "VERIFICATION_REQUIRED")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSecretKey guards admin self-registration.
func (h *Handlers) RequireSecretKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Secret-Key")
		if h.adminSecret == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.adminSecret)) != 1 {
			writeError(w, http.StatusForbidden, "Invalid secret key", "FORBIDDEN")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitByIP limits unauthenticated credential endpoints per client IP.
func (h *Handlers) RateLimitByIP(prefix string, requests int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if h.rateLimitRepo == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := prefix + ":" + getClientIP(r)
			allowed, err := h.rateLimitRepo.CheckRateLimit(r.Context(), key, requests, window)
			if err != nil {
				logger.ErrorContext(r.Context(), "Rate limit check failed", "error", err)
				// Allow request on error (fail open)
			} else if !allowed {
				writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.", "RATE_LIMITED")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Helper functions

func withClaims(ctx context.Context, claims *auth.AccessClaims) context.Context {
	ctx = context.WithValue(ctx, logger.UserIDKey, claims.Subject)
	return context.WithValue(ctx, claimsKey, claims)
}

func getClaims(r *http.Request) *auth.AccessClaims {
	if claims, ok := r.Context().Value(claimsKey).(*auth.AccessClaims); ok {
		return claims
	}
	return nil
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return token, token != ""
}

func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", "INVALID_INPUT")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message, code string) {
	response := map[string]string{
		"error": message,
		"code":  code,
	}
	writeJSON(w, statusCode, response)
}

// writeServiceError maps domain errors onto status codes. Anything unmapped
// is logged and reported as a 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *domain.ValidationError
		conflictErr   *domain.ConflictError
	)

	switch {
	case errors.Is(err, phone.ErrInvalidPhoneNumber):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_PHONE_NUMBER")
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Reason, "INVALID_INPUT")
	case errors.As(err, &conflictErr):
		code := "PHONE_TAKEN"
		if conflictErr.Field == domain.FieldEmail {
			code = "EMAIL_TAKEN"
		}
		writeError(w, http.StatusConflict, conflictErr.Error(), code)
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials", "INVALID_CREDENTIALS")
	case errors.Is(err, domain.ErrInvalidOrExpiredOTP):
		writeError(w, http.StatusBadRequest, domain.ErrInvalidOrExpiredOTP.Error(), "INVALID_OTP")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "User not found", "NOT_FOUND")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Invalid token", "UNAUTHORIZED")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "Insufficient permissions", "FORBIDDEN")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.", "RATE_LIMITED")
	case errors.Is(err, domain.ErrOTPProviderUnavailable):
		writeError(w, http.StatusBadGateway, "Verification service is unavailable. Please try again later.", "OTP_PROVIDER_UNAVAILABLE")
	case errors.Is(err, domain.ErrBookingPlatformUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Bookings are temporarily unavailable", "BOOKING_PLATFORM_UNAVAILABLE")
	default:
		logger.ErrorContext(r.Context(), "Unhandled service error", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "Internal server error", "INTERNAL_ERROR")
	}
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return limit, offset
}
