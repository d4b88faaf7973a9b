package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/milkyano/barber-core/pkg/logger"
	"github.com/milkyano/barber-core/services/auth/internal/domain"
	"github.com/milkyano/barber-core/services/auth/internal/repository"
	"github.com/milkyano/barber-core/services/auth/internal/square"
)

type BookingLister interface {
	ListBookings(ctx context.Context, params square.ListBookingsParams) ([]square.Booking, error)
}

// CustomerService serves a customer's own profile and bookings.
type CustomerService interface {
	GetProfile(ctx context.Context, userID string) (*domain.UserInfo, error)
	UpdateProfile(ctx context.Context, userID string, req *domain.UpdateProfileRequest) (*domain.UserInfo, error)
	ListBookings(ctx context.Context, userID string, filter domain.BookingFilter) ([]square.Booking, error)
	Statistics(ctx context.Context, userID string) (*BookingStatistics, error)
}

type BookingStatistics struct {
	TotalBookings     int        `json:"totalBookings"`
	UpcomingBookings  int        `json:"upcomingBookings"`
	PastBookings      int        `json:"pastBookings"`
	CancelledBookings int        `json:"cancelledBookings"`
	LastBookingDate   *time.Time `json:"lastBookingDate"`
	NextBookingDate   *time.Time `json:"nextBookingDate"`
}

type customerService struct {
	users      repository.UserRepository
	sync       CustomerSync
	bookings   BookingLister
	locationID string
	now        func() time.Time
}

func NewCustomerService(users repository.UserRepository, sync CustomerSync, bookings BookingLister, locationID string) CustomerService {
	return &customerService{users: users, sync: sync, bookings: bookings, locationID: locationID, now: time.Now}
}

// customer loads the caller. Tokens outlive deleted users, so a missing row is NotFound.
func (s *customerService) customer(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, userID)
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

func (s *customerService) GetProfile(ctx context.Context, userID string) (*domain.UserInfo, error) {
	user, err := s.customer(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.ToUserInfo(), nil
}

func (s *customerService) UpdateProfile(ctx context.Context, userID string, req *domain.UpdateProfileRequest) (*domain.UserInfo, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.customer(ctx, userID); err != nil {
		return nil, err
	}

	if req.Email != nil {
		owner, err := s.users.FindByEmail(ctx, *req.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to check email owner: %w", err)
		}
		if owner != nil && owner.ID != userID {
			return nil, domain.EmailConflict()
		}
	}

	updated, err := s.users.UpdateProfile(ctx, userID, req.ToUpdate())
	if err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	logger.InfoContext(ctx, "Profile updated", "user_id", userID)

	s.sync.PushProfile(ctx, updated)
	return updated.ToUserInfo(), nil
}

func (s *customerService) ListBookings(ctx context.Context, userID string, filter domain.BookingFilter) ([]square.Booking, error) {
	user, err := s.customer(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.bookings == nil {
		return nil, domain.ErrBookingPlatformUnavailable
	}

	// Lazy backfill for users whose registration-time sync failed.
	customerID, ok := s.sync.EnsureExternalCustomer(ctx, user)
	if !ok {
		return nil, domain.ErrBookingPlatformUnavailable
	}

	all, err := s.bookings.ListBookings(ctx, square.ListBookingsParams{
		CustomerID: customerID,
		LocationID: s.locationID,
		StartAtMin: filter.StartAtMin,
		StartAtMax: filter.StartAtMax,
	})
	if err != nil {
		logger.WarnContext(ctx, "Failed to list bookings", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrBookingPlatformUnavailable, err)
	}

	// The platform has no status filter on list.
	bookings := make([]square.Booking, 0, len(all))
	for _, b := range all {
		if filter.MatchesStatus(b.Status) {
			bookings = append(bookings, b)
		}
	}
	return bookings, nil
}

func (s *customerService) Statistics(ctx context.Context, userID string) (*BookingStatistics, error) {
	bookings, err := s.ListBookings(ctx, userID, domain.BookingFilter{})
	if err != nil {
		return nil, err
	}
	return bookingStatistics(bookings, s.now()), nil
}

func bookingStatistics(bookings []square.Booking, now time.Time) *BookingStatistics {
	stats := &BookingStatistics{TotalBookings: len(bookings)}
	for _, b := range bookings {
		startAt := b.StartAt
		switch {
		case strings.HasPrefix(b.Status, "CANCELLED"):
			stats.CancelledBookings++
		case startAt.After(now):
			stats.UpcomingBookings++
			if stats.NextBookingDate == nil || startAt.Before(*stats.NextBookingDate) {
				stats.NextBookingDate = &startAt
			}
		default:
			stats.PastBookings++
			if stats.LastBookingDate == nil || startAt.After(*stats.LastBookingDate) {
				stats.LastBookingDate = &startAt
			}
		}
	}
	return stats
}
