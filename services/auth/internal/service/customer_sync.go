package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/milkyano/barber-core/pkg/events"
	"github.com/milkyano/barber-core/pkg/logger"
	"github.com/milkyano/barber-core/services/auth/internal/domain"
	"github.com/milkyano/barber-core/services/auth/internal/repository"
	"github.com/milkyano/barber-core/services/auth/internal/square"
	"golang.org/x/sync/singleflight"
)

// CustomerPlatform manages customer records on the booking platform.
type CustomerPlatform interface {
	CreateCustomer(ctx context.Context, req square.CreateCustomerRequest) (string, error)
	UpdateCustomer(ctx context.Context, customerID string, req square.UpdateCustomerRequest) error
}

// CustomerSync links local users to booking platform customers.
type CustomerSync interface {
	// EnsureExternalCustomer returns the user's external customer id, creating
	// the remote record on first use. Failures are logged and reported as
	// ok=false; they are never returned.
	EnsureExternalCustomer(ctx context.Context, user *domain.User) (id string, ok bool)
	// PushProfile copies the user's name and email to the linked customer,
	// linking first if needed. Failures are logged only.
	PushProfile(ctx context.Context, user *domain.User)
}

type customerSync struct {
	users    repository.UserRepository
	platform CustomerPlatform
	eventBus events.Publisher
	flights  singleflight.Group
}

// NewCustomerSync accepts a nil platform, in which case no user is ever linked.
func NewCustomerSync(users repository.UserRepository, platform CustomerPlatform, eventBus events.Publisher) CustomerSync {
	return &customerSync{users: users, platform: platform, eventBus: eventBus}
}

func (s *customerSync) EnsureExternalCustomer(ctx context.Context, user *domain.User) (string, bool) {
	if user.ExternalCustomerID != nil {
		return *user.ExternalCustomerID, true
	}
	if user.Role != domain.RoleCustomer {
		return "", false
	}
	if s.platform == nil {
		logger.DebugContext(ctx, "Booking platform not configured, skipping customer sync", "user_id", user.ID)
		return "", false
	}

	v, err, _ := s.flights.Do(user.ID, func() (interface{}, error) {
		return s.link(ctx, user.ID)
	})
	if err != nil {
		logger.WarnContext(ctx, "External customer sync degraded", "user_id", user.ID, "error", err)
		return "", false
	}
	return v.(string), true
}

func (s *customerSync) PushProfile(ctx context.Context, user *domain.User) {
	if user.ExternalCustomerID == nil {
		// Linking creates the remote record from the current profile.
		s.EnsureExternalCustomer(ctx, user)
		return
	}
	if s.platform == nil {
		return
	}

	req := square.UpdateCustomerRequest{GivenName: user.FirstName, FamilyName: user.LastName}
	if user.Email != nil {
		req.EmailAddress = *user.Email
	}
	if err := s.platform.UpdateCustomer(ctx, *user.ExternalCustomerID, req); err != nil {
		logger.WarnContext(ctx, "Failed to update external customer", "user_id", user.ID, "error", err)
		return
	}
	logger.InfoContext(ctx, "Updated external customer", "user_id", user.ID, "external_customer_id", *user.ExternalCustomerID)
}

func (s *customerSync) link(ctx context.Context, userID string) (string, error) {
	// Another request may have linked the user since the caller loaded it.
	fresh, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if fresh == nil {
		return "", domain.ErrNotFound
	}
	if fresh.ExternalCustomerID != nil {
		return *fresh.ExternalCustomerID, nil
	}

	req := square.CreateCustomerRequest{
		IdempotencyKey: idempotencyKey(fresh.ID, fresh.CreatedAt),
		GivenName:      fresh.FirstName,
		FamilyName:     fresh.LastName,
		PhoneNumber:    fresh.PhoneNumber,
	}
	if fresh.Email != nil {
		req.EmailAddress = *fresh.Email
	}

	created, err := s.platform.CreateCustomer(ctx, req)
	if err != nil {
		return "", err
	}

	committed, err := s.users.SetExternalCustomerID(ctx, userID, created)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.WarnContext(ctx, "User deleted while linking external customer", "user_id", userID, "external_customer_id", created)
		}
		return "", err
	}
	if committed != created {
		logger.WarnContext(ctx, "External customer already linked, keeping first id",
			"user_id", userID,
			"kept", committed,
			"discarded", created,
		)
		return committed, nil
	}

	logger.InfoContext(ctx, "Linked external customer", "user_id", userID, "external_customer_id", committed)
	publish(ctx, s.eventBus, events.CustomerLinked, events.CustomerLinkedEvent{
		UserID:             userID,
		ExternalCustomerID: committed,
		LinkedAt:           time.Now().UTC(),
	})
	return committed, nil
}

// maxIdempotencyKeyLength is the booking platform's limit.
const maxIdempotencyKeyLength = 45

// idempotencyKey depends only on fields that never change for a user, so every
// retry maps to the same remote customer even after a phone change.
func idempotencyKey(userID string, registeredAt time.Time) string {
	sum := sha256.Sum256([]byte(userID + "|" + registeredAt.UTC().Format(time.RFC3339)))
	key := "register-" + hex.EncodeToString(sum[:])
	if len(key) > maxIdempotencyKeyLength {
		key = key[:maxIdempotencyKeyLength]
	}
	return key
}
