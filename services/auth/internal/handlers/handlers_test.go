package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/go-chi/chi/v5"
	"github.com/milkyano/barber-core/pkg/auth"
	"github.com/milkyano/barber-core/pkg/phone"
	"github.com/milkyano/barber-core/services/auth/internal/otp"
	"github.com/milkyano/barber-core/services/auth/internal/repository"
	"github.com/milkyano/barber-core/services/auth/internal/service"
	"github.com/milkyano/barber-core/services/auth/internal/square"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mockCode    = "123456"
	adminSecret = "let-me-in"
)

type stubPlatform struct {
	err error
}

func (p *stubPlatform) CreateCustomer(context.Context, square.CreateCustomerRequest) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return "SQ_CUSTOMER", nil
}

func (p *stubPlatform) UpdateCustomer(context.Context, string, square.UpdateCustomerRequest) error {
	return p.err
}

func (p *stubPlatform) ListBookings(_ context.Context, params square.ListBookingsParams) ([]square.Booking, error) {
	if p.err != nil {
		return nil, p.err
	}
	return []square.Booking{
		{ID: "booking-1", CustomerID: params.CustomerID, Status: "ACCEPTED", StartAt: time.Now().Add(24 * time.Hour)},
		{ID: "booking-2", CustomerID: params.CustomerID, Status: "CANCELLED_BY_CUSTOMER", StartAt: time.Now().Add(-24 * time.Hour)},
	}, nil
}

type testServer struct {
	router   http.Handler
	platform *stubPlatform
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	tokens, err := auth.NewIssuer(auth.IssuerConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		Issuer:        "barber-core-api",
		Audience:      "milkyano-barber-web",
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
	})
	require.NoError(t, err)
	hasher, err := service.NewPasswordHasher(&argon2id.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)

	users := repository.NewMemoryUserRepository()
	platform := &stubPlatform{}
	customerSync := service.NewCustomerSync(users, platform, nil)

	authService := service.NewAuthService(service.AuthDeps{
		Users:  users,
		OTP:    otp.NewFixedCodeGateway(mockCode),
		Sync:   customerSync,
		Tokens: tokens,
		Hasher: hasher,
		Phones: phone.NewNormalizer("AU"),
	})
	customerService := service.NewCustomerService(users, customerSync, platform, "LOC1")

	h := New(authService, customerService, tokens, nil, adminSecret)
	r := chi.NewRouter()
	r.NotFound(NotFound)
	h.Routes(r)

	return &testServer{router: r, platform: platform}
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type authBody struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
	Message      string `json:"message"`
	User         struct {
		ID          string `json:"id"`
		PhoneNumber string `json:"phoneNumber"`
		Role        string `json:"role"`
		IsVerified  bool   `json:"isVerified"`
	} `json:"user"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func registerBody(phoneNumber string) map[string]any {
	return map[string]any{
		"phoneNumber": phoneNumber,
		"firstName":   "Jane",
		"lastName":    "Doe",
		"password":    "password123",
	}
}

func (s *testServer) registerVerified(t *testing.T, phoneNumber string) authBody {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/auth/register", registerBody(phoneNumber), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/auth/verify-otp", map[string]any{"phoneNumber": phoneNumber, "otpCode": mockCode}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[authBody](t, rec)
}

func TestRegisterVerifyMeFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/auth/register", registerBody("+61412345678"), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reg := decode[authBody](t, rec)
	assert.NotEmpty(t, reg.AccessToken)
	assert.Equal(t, "Bearer", reg.TokenType)
	assert.False(t, reg.User.IsVerified)

	rec = s.do(t, http.MethodPost, "/auth/verify-otp", map[string]any{"phoneNumber": "+61412345678", "otpCode": mockCode}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	verified := decode[authBody](t, rec)
	assert.True(t, verified.User.IsVerified)

	rec = s.do(t, http.MethodGet, "/auth/me", nil, verified.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[struct {
		User struct {
			PhoneNumber string `json:"phoneNumber"`
			IsVerified  bool   `json:"isVerified"`
		} `json:"user"`
	}](t, rec)
	assert.Equal(t, "+61412345678", me.User.PhoneNumber)
	assert.True(t, me.User.IsVerified)
}

func TestRegisterErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/auth/register", registerBody("123"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PHONE_NUMBER", decode[errorBody](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/auth/register", registerBody("+61412345678"), "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/register", registerBody("0412 345 678"), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "PHONE_TAKEN", decode[errorBody](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/auth/register", "not an object", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decode[errorBody](t, rec).Code)
}

func TestLoginFailuresLookIdentical(t *testing.T) {
	s := newTestServer(t)
	s.registerVerified(t, "+61412345678")

	unknown := s.do(t, http.MethodPost, "/auth/login", map[string]any{"emailOrPhone": "+61499999999", "password": "password123"}, "")
	wrong := s.do(t, http.MethodPost, "/auth/login", map[string]any{"emailOrPhone": "+61412345678", "password": "nope-nope"}, "")

	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, unknown.Code, wrong.Code)
	assert.JSONEq(t, unknown.Body.String(), wrong.Body.String())

	ok := s.do(t, http.MethodPost, "/auth/login", map[string]any{"emailOrPhone": "0412345678", "password": "password123"}, "")
	assert.Equal(t, http.StatusOK, ok.Code)
}

func TestRegisterAdminRequiresSecret(t *testing.T) {
	s := newTestServer(t)
	body := registerBody("+61400000000")
	body["email"] = "admin@example.com"

	rec := s.do(t, http.MethodPost, "/auth/register-admin", body, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/register-admin", body, "", "X-Secret-Key", "wrong")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/register-admin", body, "", "X-Secret-Key", adminSecret)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[authBody](t, rec)
	assert.Equal(t, "ADMIN", created.User.Role)
	assert.True(t, created.User.IsVerified)
}

func TestRequestOTPWithInvalidBearerIsRejected(t *testing.T) {
	s := newTestServer(t)
	s.registerVerified(t, "+61412345678")

	rec := s.do(t, http.MethodPost, "/auth/request-otp", map[string]any{"phoneNumber": "+61412345678"}, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/request-otp", map[string]any{"phoneNumber": "+61412345678"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/request-otp", map[string]any{"phoneNumber": "+61499999999"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPhoneChangeOverHTTP(t *testing.T) {
	s := newTestServer(t)
	a := s.registerVerified(t, "+61411111111")
	s.registerVerified(t, "+61422222222")

	rec := s.do(t, http.MethodPost, "/auth/request-otp", map[string]any{"phoneNumber": "+61422222222"}, a.AccessToken)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/verify-otp", map[string]any{"phoneNumber": "+61433333333", "otpCode": "000000"}, a.AccessToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_OTP", decode[errorBody](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/auth/verify-otp", map[string]any{"phoneNumber": "+61433333333", "otpCode": mockCode}, a.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	changed := decode[authBody](t, rec)
	assert.Equal(t, a.User.ID, changed.User.ID)
	assert.Equal(t, "+61433333333", changed.User.PhoneNumber)
}

func TestRefreshEndpoint(t *testing.T) {
	s := newTestServer(t)
	session := s.registerVerified(t, "+61412345678")

	rec := s.do(t, http.MethodPost, "/auth/refresh", map[string]any{"refreshToken": session.AccessToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/refresh", map[string]any{"refreshToken": session.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	refreshed := decode[authBody](t, rec)
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.Empty(t, refreshed.RefreshToken)

	rec = s.do(t, http.MethodGet, "/auth/me", nil, session.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "refresh tokens are not access tokens")
}

func TestBookingsGating(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/auth/register", registerBody("+61412345678"), "")
	require.Equal(t, http.StatusCreated, rec.Code)
	unverified := decode[authBody](t, rec)

	rec = s.do(t, http.MethodGet, "/customers/me/bookings", nil, unverified.AccessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "VERIFICATION_REQUIRED", decode[errorBody](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/auth/verify-otp", map[string]any{"phoneNumber": "+61412345678", "otpCode": mockCode}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	verified := decode[authBody](t, rec)

	rec = s.do(t, http.MethodGet, "/customers/me/bookings", nil, verified.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "booking-1")

	rec = s.do(t, http.MethodGet, "/admin/users", nil, verified.AccessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBookingsFiltersAndStatistics(t *testing.T) {
	s := newTestServer(t)
	session := s.registerVerified(t, "+61412345678")

	rec := s.do(t, http.MethodGet, "/customers/me/bookings?status=cancelled", nil, session.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "booking-2")
	assert.NotContains(t, rec.Body.String(), "booking-1")

	rec = s.do(t, http.MethodGet, "/customers/me/bookings?startDate=tomorrow", nil, session.AccessToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decode[errorBody](t, rec).Code)

	rec = s.do(t, http.MethodGet, "/customers/me/statistics", nil, session.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode[struct {
		TotalBookings     int `json:"totalBookings"`
		UpcomingBookings  int `json:"upcomingBookings"`
		CancelledBookings int `json:"cancelledBookings"`
	}](t, rec)
	assert.Equal(t, 2, stats.TotalBookings)
	assert.Equal(t, 1, stats.UpcomingBookings)
	assert.Equal(t, 1, stats.CancelledBookings)
}

func TestProfileEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/auth/register", registerBody("+61412345678"), "")
	require.Equal(t, http.StatusCreated, rec.Code)
	unverified := decode[authBody](t, rec)
	other := registerBody("+61499999999")
	other["email"] = "taken@example.com"
	rec = s.do(t, http.MethodPost, "/auth/register", other, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/customers/me/profile", nil, unverified.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "+61412345678")

	rec = s.do(t, http.MethodPut, "/customers/me/profile", map[string]any{}, unverified.AccessToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/customers/me/profile", map[string]any{"email": "taken@example.com"}, unverified.AccessToken)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "EMAIL_TAKEN", decode[errorBody](t, rec).Code)

	rec = s.do(t, http.MethodPut, "/customers/me/profile", map[string]any{"firstName": "Sam"}, unverified.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"firstName":"Sam"`)

	rec = s.do(t, http.MethodGet, "/customers/me/profile", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOTPLoginRejectsAdmin(t *testing.T) {
	s := newTestServer(t)
	body := registerBody("+61400000000")
	body["email"] = "admin@example.com"
	rec := s.do(t, http.MethodPost, "/auth/register-admin", body, "", "X-Secret-Key", adminSecret)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/verify-otp", map[string]any{"phoneNumber": "+61400000000", "otpCode": mockCode}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "accessToken")
}

func TestBookingsPlatformDown(t *testing.T) {
	s := newTestServer(t)
	s.platform.err = errors.New("connection refused")
	session := s.registerVerified(t, "+61412345678")

	rec := s.do(t, http.MethodGet, "/customers/me/bookings", nil, session.AccessToken)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "BOOKING_PLATFORM_UNAVAILABLE", decode[errorBody](t, rec).Code)
}

func TestAdminDeleteRevokesRefresh(t *testing.T) {
	s := newTestServer(t)
	customer := s.registerVerified(t, "+61412345678")

	body := registerBody("+61400000000")
	body["email"] = "admin@example.com"
	rec := s.do(t, http.MethodPost, "/auth/register-admin", body, "", "X-Secret-Key", adminSecret)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/login", map[string]any{"emailOrPhone": "admin@example.com", "password": "password123"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	admin := decode[authBody](t, rec)

	rec = s.do(t, http.MethodGet, "/admin/users?limit=10", nil, admin.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), customer.User.ID)

	rec = s.do(t, http.MethodDelete, "/admin/users/"+customer.User.ID, nil, admin.AccessToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/refresh", map[string]any{"refreshToken": customer.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The access token is still signed, but its subject is gone.
	rec = s.do(t, http.MethodGet, "/auth/me", nil, customer.AccessToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode[errorBody](t, rec).Code)

	rec = s.do(t, http.MethodDelete, "/admin/users/"+customer.User.ID, nil, admin.AccessToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdatePasswordEndpoint(t *testing.T) {
	s := newTestServer(t)
	session := s.registerVerified(t, "+61412345678")

	rec := s.do(t, http.MethodPut, "/auth/password", map[string]any{"password": "short"}, session.AccessToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/auth/password", map[string]any{"password": "a-new-password"}, session.AccessToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPut, "/auth/password", map[string]any{"password": "a-new-password"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode[errorBody](t, rec).Code)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", getClientIP(req))
}
