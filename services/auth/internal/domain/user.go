package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/milkyano/barber-core/pkg/auth"
)

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
)

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

type User struct {
	ID                 string
	PhoneNumber        string
	Email              *string
	FirstName          string
	LastName           string
	PasswordHash       *string
	Role               Role
	IsVerified         bool
	ExternalCustomerID *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewUser is the draft passed to the identity store on creation.
type NewUser struct {
	PhoneNumber  string
	Email        *string
	FirstName    string
	LastName     string
	PasswordHash *string
	Role         Role
	IsVerified   bool
}

type UserInfo struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phoneNumber"`
	Email       *string   `json:"email"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Role        Role      `json:"role"`
	IsVerified  bool      `json:"isVerified"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ToUserInfo converts User to UserInfo (without sensitive data)
func (u *User) ToUserInfo() *UserInfo {
	return &UserInfo{
		ID:          u.ID,
		PhoneNumber: u.PhoneNumber,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Role:        u.Role,
		IsVerified:  u.IsVerified,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func (u *User) ToSubject() auth.Subject {
	sub := auth.Subject{
		ID:          u.ID,
		Role:        string(u.Role),
		PhoneNumber: u.PhoneNumber,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		IsVerified:  u.IsVerified,
	}
	if u.Email != nil {
		sub.Email = *u.Email
	}
	return sub
}

func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (u *User) Clone() *User {
	c := *u
	c.Email = cloneString(u.Email)
	c.PasswordHash = cloneString(u.PasswordHash)
	c.ExternalCustomerID = cloneString(u.ExternalCustomerID)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Requests

type RegisterRequest struct {
	PhoneNumber string  `json:"phoneNumber"`
	FirstName   string  `json:"firstName"`
	LastName    string  `json:"lastName"`
	Email       *string `json:"email,omitempty"`
	Password    string  `json:"password"`
}

type LoginRequest struct {
	EmailOrPhone string `json:"emailOrPhone"`
	Password     string `json:"password"`
}

type RequestOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type VerifyOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	OTPCode     string `json:"otpCode"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type UpdatePasswordRequest struct {
	Password string `json:"password"`
}

// UpdateProfileRequest changes only the fields that are present.
type UpdateProfileRequest struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Email     *string `json:"email,omitempty"`
}

// ProfileUpdate is the draft passed to the identity store. Nil fields are kept.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
}

// BookingFilter narrows a customer's booking list. Zero values match everything.
type BookingFilter struct {
	StartAtMin *time.Time
	StartAtMax *time.Time
	Status     string
}

// Responses

type AuthResponse struct {
	*auth.TokenPair
	User    *UserInfo `json:"user"`
	Message string    `json:"message,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

const (
	minPasswordLength = 8
	maxPasswordLength = 100
	maxNameLength     = 100
	maxEmailLength    = 255
)

var (
	emailRegex   = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	otpCodeRegex = regexp.MustCompile(`^\d{4,10}$`)
)

// Validation methods

func (r *RegisterRequest) Validate(emailRequired bool) error {
	if r.PhoneNumber == "" {
		return NewValidationError("phone number is required")
	}
	if err := validateName("first name", r.FirstName); err != nil {
		return err
	}
	if err := validateName("last name", r.LastName); err != nil {
		return err
	}
	if r.Email == nil {
		if emailRequired {
			return NewValidationError("email is required")
		}
	} else if err := validateEmail(*r.Email); err != nil {
		return err
	}
	return ValidatePassword(r.Password)
}

func (r *LoginRequest) Validate() error {
	if r.EmailOrPhone == "" {
		return NewValidationError("email or phone number is required")
	}
	if r.Password == "" {
		return NewValidationError("password is required")
	}
	return nil
}

func (r *LoginRequest) IsEmail() bool {
	return strings.Contains(r.EmailOrPhone, "@")
}

func (r *VerifyOTPRequest) Validate() error {
	if r.PhoneNumber == "" {
		return NewValidationError("phone number is required")
	}
	if r.OTPCode == "" {
		return NewValidationError("otp code is required")
	}
	if !otpCodeRegex.MatchString(r.OTPCode) {
		return NewValidationError("otp code must contain only digits")
	}
	return nil
}

func (r *UpdateProfileRequest) Validate() error {
	if r.FirstName == nil && r.LastName == nil && r.Email == nil {
		return NewValidationError("at least one of firstName, lastName or email is required")
	}
	if r.FirstName != nil {
		if err := validateName("first name", *r.FirstName); err != nil {
			return err
		}
	}
	if r.LastName != nil {
		if err := validateName("last name", *r.LastName); err != nil {
			return err
		}
	}
	if r.Email != nil {
		return validateEmail(*r.Email)
	}
	return nil
}

func (r *UpdateProfileRequest) ToUpdate() ProfileUpdate {
	return ProfileUpdate{FirstName: r.FirstName, LastName: r.LastName, Email: r.Email}
}

var bookingStatuses = map[string]bool{
	"PENDING":               true,
	"ACCEPTED":              true,
	"DECLINED":              true,
	"CANCELLED":             true,
	"CANCELLED_BY_CUSTOMER": true,
	"CANCELLED_BY_SELLER":   true,
	"NO_SHOW":               true,
}

// ParseBookingFilter reads RFC 3339 start and end dates and a booking status.
// CANCELLED matches both cancellation statuses.
func ParseBookingFilter(startDate, endDate, status string) (BookingFilter, error) {
	var f BookingFilter
	if startDate != "" {
		t, err := time.Parse(time.RFC3339, startDate)
		if err != nil {
			return f, NewValidationError("startDate must be an RFC 3339 date-time")
		}
		f.StartAtMin = &t
	}
	if endDate != "" {
		t, err := time.Parse(time.RFC3339, endDate)
		if err != nil {
			return f, NewValidationError("endDate must be an RFC 3339 date-time")
		}
		f.StartAtMax = &t
	}
	if f.StartAtMin != nil && f.StartAtMax != nil && f.StartAtMax.Before(*f.StartAtMin) {
		return f, NewValidationError("endDate must not be before startDate")
	}
	if status != "" {
		status = strings.ToUpper(strings.TrimSpace(status))
		if !bookingStatuses[status] {
			return f, NewValidationError("unknown booking status")
		}
		f.Status = status
	}
	return f, nil
}

// MatchesStatus reports whether a booking status passes the filter.
func (f BookingFilter) MatchesStatus(status string) bool {
	switch f.Status {
	case "":
		return true
	case "CANCELLED":
		return strings.HasPrefix(status, "CANCELLED")
	default:
		return status == f.Status
	}
}

func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return NewValidationError(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordLength {
		return NewValidationError(fmt.Sprintf("password must be at most %d characters", maxPasswordLength))
	}
	return nil
}

func validateName(field, v string) error {
	if v == "" {
		return NewValidationError(field + " is required")
	}
	if len(v) > maxNameLength {
		return NewValidationError(fmt.Sprintf("%s must be at most %d characters", field, maxNameLength))
	}
	return nil
}

func validateEmail(email string) error {
	if len(email) > maxEmailLength || !emailRegex.MatchString(email) {
		return NewValidationError("invalid email format")
	}
	return nil
}

// Normalize methods

func (r *RegisterRequest) Normalize() {
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	if r.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*r.Email))
		if email == "" {
			r.Email = nil
		} else {
			r.Email = &email
		}
	}
}

func (r *LoginRequest) Normalize() {
	r.EmailOrPhone = strings.TrimSpace(r.EmailOrPhone)
	if r.IsEmail() {
		r.EmailOrPhone = strings.ToLower(r.EmailOrPhone)
	}
}

func (r *UpdateProfileRequest) Normalize() {
	if r.FirstName != nil {
		v := strings.TrimSpace(*r.FirstName)
		r.FirstName = &v
	}
	if r.LastName != nil {
		v := strings.TrimSpace(*r.LastName)
		r.LastName = &v
	}
	if r.Email != nil {
		v := strings.ToLower(strings.TrimSpace(*r.Email))
		r.Email = &v
	}
}

func (r *VerifyOTPRequest) Normalize() {
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)
	r.OTPCode = strings.TrimSpace(r.OTPCode)
}
