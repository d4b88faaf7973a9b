package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/milkyano/barber-core/pkg/auth"
	"github.com/milkyano/barber-core/pkg/events"
	"github.com/milkyano/barber-core/pkg/logger"
	"github.com/milkyano/barber-core/pkg/phone"
	"github.com/milkyano/barber-core/services/auth/internal/domain"
	"github.com/milkyano/barber-core/services/auth/internal/mailer"
	"github.com/milkyano/barber-core/services/auth/internal/otp"
	"github.com/milkyano/barber-core/services/auth/internal/repository"
)

type AuthService interface {
	Register(ctx context.Context, req *domain.RegisterRequest) (*domain.AuthResponse, error)
	RegisterAdmin(ctx context.Context, req *domain.RegisterRequest) (*domain.UserInfo, error)
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.AuthResponse, error)

	// RequestOTPForLogin sends a code to an existing customer's phone.
	RequestOTPForLogin(ctx context.Context, phoneNumber string) error
	// RequestOTPForPhoneChange sends a code to a phone the caller wants to move to.
	RequestOTPForPhoneChange(ctx context.Context, callerID, phoneNumber string) error
	ForgotPassword(ctx context.Context, phoneNumber string) error

	// VerifyOTPForLogin finds the user by the submitted phone.
	VerifyOTPForLogin(ctx context.Context, req *domain.VerifyOTPRequest) (*domain.AuthResponse, error)
	// VerifyOTPForPhoneChange moves the caller's own record to the submitted phone.
	VerifyOTPForPhoneChange(ctx context.Context, callerID string, req *domain.VerifyOTPRequest) (*domain.AuthResponse, error)

	Refresh(ctx context.Context, refreshToken string) (*auth.AccessToken, error)
	GetMe(ctx context.Context, userID string) (*domain.UserInfo, error)
	UpdatePassword(ctx context.Context, userID, password string) error
	ListUsers(ctx context.Context, limit, offset int) ([]domain.UserInfo, error)
	DeleteUser(ctx context.Context, id string) error
}

// AuthDeps are the collaborators of the auth service. Limiter, Mailer and
// EventBus may be nil.
type AuthDeps struct {
	Users    repository.UserRepository
	OTP      otp.Gateway
	Limiter  repository.RateLimitRepository
	Sync     CustomerSync
	Tokens   *auth.Issuer
	Hasher   *PasswordHasher
	Phones   *phone.Normalizer
	Mailer   mailer.Service
	EventBus events.Publisher

	OTPRateLimit  int
	OTPRateWindow time.Duration
}

type authService struct {
	AuthDeps
}

func NewAuthService(deps AuthDeps) AuthService {
	return &authService{AuthDeps: deps}
}

const (
	msgRegistered      = "Registration successful. OTP sent."
	msgRegisteredNoOTP = "Registration successful. We could not send a verification code, please request a new one."
	msgVerified        = "Phone number verified"
	msgPhoneChanged    = "Phone number updated"
	msgLoggedIn        = "Login successful"
)

func (s *authService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.AuthResponse, error) {
	req.Normalize()
	if err := req.Validate(false); err != nil {
		return nil, err
	}
	phoneNumber, err := s.Phones.Normalize(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	if err := s.checkAvailable(ctx, phoneNumber, req.Email); err != nil {
		return nil, err
	}

	hash, err := s.Hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.Users.Create(ctx, &domain.NewUser{
		PhoneNumber:  phoneNumber,
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: &hash,
		Role:         domain.RoleCustomer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	logger.InfoContext(ctx, "Customer registered", "user_id", user.ID)

	if id, ok := s.Sync.EnsureExternalCustomer(ctx, user); ok {
		user.ExternalCustomerID = &id
	}

	message := msgRegistered
	if err := s.sendOTP(ctx, phoneNumber); err != nil {
		// The account exists; the client can ask for a new code.
		logger.WarnContext(ctx, "Failed to send registration OTP", "user_id", user.ID, "error", err)
		message = msgRegisteredNoOTP
	}

	pair, err := s.Tokens.IssuePair(user.ToSubject())
	if err != nil {
		return nil, err
	}

	publish(ctx, s.EventBus, events.UserRegistered, events.UserRegisteredEvent{
		UserID:      user.ID,
		Role:        string(user.Role),
		PhoneNumber: user.PhoneNumber,
		CreatedAt:   user.CreatedAt,
	})

	return &domain.AuthResponse{TokenPair: pair, User: user.ToUserInfo(), Message: message}, nil
}

func (s *authService) RegisterAdmin(ctx context.Context, req *domain.RegisterRequest) (*domain.UserInfo, error) {
	req.Normalize()
	if err := req.Validate(true); err != nil {
		return nil, err
	}
	phoneNumber, err := s.Phones.Normalize(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	if err := s.checkAvailable(ctx, phoneNumber, req.Email); err != nil {
		return nil, err
	}

	hash, err := s.Hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.Users.Create(ctx, &domain.NewUser{
		PhoneNumber:  phoneNumber,
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: &hash,
		Role:         domain.RoleAdmin,
		IsVerified:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create admin: %w", err)
	}
	logger.InfoContext(ctx, "Admin registered", "user_id", user.ID)

	publish(ctx, s.EventBus, events.UserRegistered, events.UserRegisteredEvent{
		UserID:      user.ID,
		Role:        string(user.Role),
		PhoneNumber: user.PhoneNumber,
		CreatedAt:   user.CreatedAt,
	})

	return user.ToUserInfo(), nil
}

// checkAvailable fails fast on taken identifiers. The store still enforces
// uniqueness on write, so a concurrent registration surfaces as the same conflict.
func (s *authService) checkAvailable(ctx context.Context, phoneNumber string, email *string) error {
	existing, err := s.Users.FindByPhone(ctx, phoneNumber)
	if err != nil {
		return fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return domain.PhoneConflict()
	}

	if email != nil {
		existing, err = s.Users.FindByEmail(ctx, *email)
		if err != nil {
			return fmt.Errorf("failed to check existing user: %w", err)
		}
		if existing != nil {
			return domain.EmailConflict()
		}
	}
	return nil
}

func (s *authService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.AuthResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		user *domain.User
		err  error
	)
	if req.IsEmail() {
		user, err = s.Users.FindByEmail(ctx, req.EmailOrPhone)
	} else {
		var phoneNumber string
		phoneNumber, err = s.Phones.Normalize(req.EmailOrPhone)
		if err != nil {
			return nil, err
		}
		user, err = s.Users.FindByPhone(ctx, phoneNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil || !user.HasPassword() {
		s.Hasher.CompareDummy(req.Password)
		return nil, domain.ErrInvalidCredentials
	}

	match, err := s.Hasher.Compare(req.Password, *user.PasswordHash)
	if err != nil {
		logger.ErrorContext(ctx, "Stored password hash unreadable", "user_id", user.ID, "error", err)
		return nil, domain.ErrInvalidCredentials
	}
	if !match {
		return nil, domain.ErrInvalidCredentials
	}

	pair, err := s.Tokens.IssuePair(user.ToSubject())
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "User logged in", "user_id", user.ID, "verified", user.IsVerified)
	return &domain.AuthResponse{TokenPair: pair, User: user.ToUserInfo(), Message: msgLoggedIn}, nil
}

func (s *authService) RequestOTPForLogin(ctx context.Context, phoneNumber string) error {
	user, err := s.customerByPhone(ctx, phoneNumber)
	if err != nil {
		return err
	}
	return s.sendOTP(ctx, user.PhoneNumber)
}

func (s *authService) ForgotPassword(ctx context.Context, phoneNumber string) error {
	user, err := s.customerByPhone(ctx, phoneNumber)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "Password reset requested", "user_id", user.ID)
	return s.sendOTP(ctx, user.PhoneNumber)
}

// customerByPhone resolves an OTP login target. Only customers log in by OTP.
func (s *authService) customerByPhone(ctx context.Context, raw string) (*domain.User, error) {
	phoneNumber, err := s.Phones.Normalize(raw)
	if err != nil {
		return nil, err
	}
	user, err := s.Users.FindByPhone(ctx, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrNotFound
	}
	if user.Role != domain.RoleCustomer {
		return nil, domain.ErrForbidden
	}
	return user, nil
}

func (s *authService) RequestOTPForPhoneChange(ctx context.Context, callerID, raw string) error {
	phoneNumber, err := s.Phones.Normalize(raw)
	if err != nil {
		return err
	}
	if _, err := s.phoneChangeCaller(ctx, callerID, phoneNumber); err != nil {
		return err
	}
	return s.sendOTP(ctx, phoneNumber)
}

// phoneChangeCaller loads the caller and rejects a target phone owned by someone else.
func (s *authService) phoneChangeCaller(ctx context.Context, callerID, phoneNumber string) (*domain.User, error) {
	caller, err := s.Users.FindByID(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if caller == nil {
		return nil, domain.ErrUnauthorized
	}

	owner, err := s.Users.FindByPhone(ctx, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to check phone owner: %w", err)
	}
	if owner != nil && owner.ID != caller.ID {
		return nil, domain.PhoneConflict()
	}
	return caller, nil
}

func (s *authService) VerifyOTPForLogin(ctx context.Context, req *domain.VerifyOTPRequest) (*domain.AuthResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	phoneNumber, err := s.Phones.Normalize(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	user, err := s.Users.FindByPhone(ctx, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrNotFound
	}
	// Admins are created verified and log in by password only.
	if user.Role != domain.RoleCustomer {
		return nil, domain.ErrForbidden
	}

	if err := s.checkOTP(ctx, phoneNumber, req.OTPCode); err != nil {
		return nil, err
	}

	changed, err := s.Users.MarkVerified(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark verified: %w", err)
	}
	user.IsVerified = true
	if changed {
		s.onFirstVerification(ctx, user)
	}

	pair, err := s.Tokens.IssuePair(user.ToSubject())
	if err != nil {
		return nil, err
	}
	return &domain.AuthResponse{TokenPair: pair, User: user.ToUserInfo(), Message: msgVerified}, nil
}

func (s *authService) VerifyOTPForPhoneChange(ctx context.Context, callerID string, req *domain.VerifyOTPRequest) (*domain.AuthResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	phoneNumber, err := s.Phones.Normalize(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	caller, err := s.phoneChangeCaller(ctx, callerID, phoneNumber)
	if err != nil {
		return nil, err
	}

	if err := s.checkOTP(ctx, phoneNumber, req.OTPCode); err != nil {
		return nil, err
	}

	oldPhone := caller.PhoneNumber
	updated, err := s.Users.UpdatePhone(ctx, caller.ID, phoneNumber)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to update phone: %w", err)
	}

	changed, err := s.Users.MarkVerified(ctx, updated.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark verified: %w", err)
	}
	updated.IsVerified = true

	if oldPhone != updated.PhoneNumber {
		logger.InfoContext(ctx, "Phone number changed", "user_id", updated.ID)
		publish(ctx, s.EventBus, events.UserPhoneChanged, events.UserPhoneChangedEvent{
			UserID:   updated.ID,
			OldPhone: oldPhone,
			NewPhone: updated.PhoneNumber,
			At:       time.Now().UTC(),
		})
	}
	if changed {
		s.onFirstVerification(ctx, updated)
	}

	pair, err := s.Tokens.IssuePair(updated.ToSubject())
	if err != nil {
		return nil, err
	}
	return &domain.AuthResponse{TokenPair: pair, User: updated.ToUserInfo(), Message: msgPhoneChanged}, nil
}

func (s *authService) onFirstVerification(ctx context.Context, user *domain.User) {
	logger.InfoContext(ctx, "User verified", "user_id", user.ID)
	publish(ctx, s.EventBus, events.UserVerified, events.UserVerifiedEvent{
		UserID:      user.ID,
		PhoneNumber: user.PhoneNumber,
		VerifiedAt:  time.Now().UTC(),
	})

	if s.Mailer == nil || user.Email == nil {
		return
	}
	if err := s.Mailer.SendWelcomeEmail(ctx, *user.Email, user.FirstName); err != nil {
		logger.WarnContext(ctx, "Failed to send welcome email", "user_id", user.ID, "error", err)
	}
}

func (s *authService) sendOTP(ctx context.Context, phoneNumber string) error {
	if s.Limiter != nil {
		allowed, err := s.Limiter.CheckRateLimit(ctx, "otp:"+phoneNumber, s.OTPRateLimit, s.OTPRateWindow)
		if err != nil {
			// Fail open: OTP delivery matters more than the limiter.
			logger.ErrorContext(ctx, "Rate limit check failed", "error", err)
		} else if !allowed {
			return domain.ErrRateLimited
		}
	}

	if err := s.OTP.Send(ctx, phoneNumber); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrOTPProviderUnavailable, err)
	}
	return nil
}

func (s *authService) checkOTP(ctx context.Context, phoneNumber, code string) error {
	result, err := s.OTP.Check(ctx, phoneNumber, code)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrOTPProviderUnavailable, err)
	}
	if !result.Valid {
		logger.DebugContext(ctx, "OTP rejected", "status", result.Status)
		return domain.ErrInvalidOrExpiredOTP
	}
	return nil
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (*auth.AccessToken, error) {
	access, err := s.Tokens.Refresh(ctx, refreshToken, subjectLoader{users: s.Users})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			logger.DebugContext(ctx, "Refresh token rejected", "reason", err)
			return nil, domain.ErrUnauthorized
		}
		return nil, err
	}
	return access, nil
}

func (s *authService) GetMe(ctx context.Context, userID string) (*domain.UserInfo, error) {
	user, err := s.Users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrNotFound
	}
	return user.ToUserInfo(), nil
}

func (s *authService) UpdatePassword(ctx context.Context, userID, password string) error {
	if err := domain.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.Users.SetPassword(ctx, userID, hash); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrUnauthorized
		}
		return fmt.Errorf("failed to set password: %w", err)
	}
	logger.InfoContext(ctx, "Password updated", "user_id", userID)
	return nil
}

func (s *authService) ListUsers(ctx context.Context, limit, offset int) ([]domain.UserInfo, error) {
	users, err := s.Users.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	infos := make([]domain.UserInfo, 0, len(users))
	for i := range users {
		infos = append(infos, *users[i].ToUserInfo())
	}
	return infos, nil
}

func (s *authService) DeleteUser(ctx context.Context, id string) error {
	if err := s.Users.Delete(ctx, id); err != nil {
		return err
	}
	logger.InfoContext(ctx, "User deleted", "user_id", id)
	publish(ctx, s.EventBus, events.UserDeleted, events.UserDeletedEvent{
		UserID:    id,
		DeletedAt: time.Now().UTC(),
	})
	return nil
}

// subjectLoader re-reads users for token refresh.
type subjectLoader struct {
	users repository.UserRepository
}

func (l subjectLoader) LoadSubject(ctx context.Context, id string) (*auth.Subject, error) {
	user, err := l.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, auth.ErrSubjectGone
	}
	sub := user.ToSubject()
	return &sub, nil
}
