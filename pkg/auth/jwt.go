package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is the only error callers see for a rejected token. The
// wrapped cause says why (expired, bad signature, wrong type) and is for logs.
var ErrInvalidToken = errors.New("invalid token")

// ErrSubjectGone is returned by a SubjectLoader when the token's user no longer exists.
var ErrSubjectGone = errors.New("token subject no longer exists")

const (
	TokenTypeRefresh = "refresh"
	TokenTypeBearer  = "Bearer"
)

// Subject is the identity snapshot embedded into access tokens.
type Subject struct {
	ID          string
	Role        string
	PhoneNumber string
	Email       string
	FirstName   string
	LastName    string
	IsVerified  bool
}

type AccessClaims struct {
	Role        string `json:"role"`
	PhoneNumber string `json:"phoneNumber"`
	Email       string `json:"email,omitempty"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	IsVerified  bool   `json:"isVerified"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

type AccessToken struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
	TokenType   string `json:"tokenType"`
}

// SubjectLoader re-reads the current identity for a refresh. It returns
// ErrSubjectGone when the user was deleted.
type SubjectLoader interface {
	LoadSubject(ctx context.Context, id string) (*Subject, error)
}

type IssuerConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Issuer mints and checks access and refresh tokens. The two kinds are signed
// with independent keys.
type Issuer struct {
	accessKey  []byte
	refreshKey []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("auth: both signing secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	return &Issuer{
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

func (i *Issuer) IssuePair(sub Subject) (*TokenPair, error) {
	access, err := i.IssueAccess(sub)
	if err != nil {
		return nil, err
	}

	now := i.now()
	claims := RefreshClaims{
		Type:             TokenTypeRefresh,
		RegisteredClaims: i.registered(sub.ID, now, i.refreshTTL),
	}
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.refreshKey)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access.AccessToken,
		RefreshToken: refresh,
		ExpiresIn:    access.ExpiresIn,
		TokenType:    TokenTypeBearer,
	}, nil
}

func (i *Issuer) IssueAccess(sub Subject) (*AccessToken, error) {
	now := i.now()
	claims := AccessClaims{
		Role:             sub.Role,
		PhoneNumber:      sub.PhoneNumber,
		Email:            sub.Email,
		FirstName:        sub.FirstName,
		LastName:         sub.LastName,
		IsVerified:       sub.IsVerified,
		RegisteredClaims: i.registered(sub.ID, now, i.accessTTL),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.accessKey)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &AccessToken{
		AccessToken: signed,
		ExpiresIn:   int64(i.accessTTL.Seconds()),
		TokenType:   TokenTypeBearer,
	}, nil
}

func (i *Issuer) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.parse(token, claims, i.accessKey); err != nil {
		return nil, err
	}
	return claims, nil
}

func (i *Issuer) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.parse(token, claims, i.refreshKey); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: token type %q", ErrInvalidToken, claims.Type)
	}
	return claims, nil
}

// Refresh mints a new access token from a refresh token. The user is re-read
// through loader so the new token reflects current role and verification
// state. The refresh token is not rotated and stays valid until it expires.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string, loader SubjectLoader) (*AccessToken, error) {
	claims, err := i.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	sub, err := loader.LoadSubject(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrSubjectGone) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		return nil, fmt.Errorf("load token subject: %w", err)
	}
	return i.IssueAccess(*sub)
}

func (i *Issuer) registered(subject string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    i.issuer,
		Audience:  jwt.ClaimStrings{i.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (i *Issuer) parse(token string, claims jwt.Claims, key []byte) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	if i.audience != "" {
		opts = append(opts, jwt.WithAudience(i.audience))
	}

	tok, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return nil
}
