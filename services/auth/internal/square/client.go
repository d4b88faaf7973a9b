// Package square adapts the booking platform SDK to the customer and booking
// operations the auth service needs.
package square

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/milkyano/barber-core/pkg/logger"
	squaresdk "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	"github.com/square/square-go-sdk/core"
	"github.com/square/square-go-sdk/option"
)

// ErrUnavailable covers transport failures, timeouts, rate limiting and 5xx answers.
var ErrUnavailable = errors.New("booking platform unavailable")

// APIError is a 4xx answer from the platform other than 429.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("square: %d: %s", e.StatusCode, e.Detail)
}

type Config struct {
	BaseURL     string
	AccessToken string
	Version     string
	Timeout     time.Duration
}

type Client struct {
	api *sqclient.Client
}

func NewClient(cfg Config) *Client {
	opts := []option.RequestOption{
		option.WithToken(cfg.AccessToken),
		option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		// Callers degrade instead of retrying; a retry would only hold the request open.
		option.WithMaxAttempts(1),
	}
	if cfg.Version != "" {
		opts = append(opts, option.WithHTTPHeader(http.Header{"Square-Version": []string{cfg.Version}}))
	}
	return &Client{api: sqclient.NewClient(opts...)}
}

// CreateCustomerRequest is retried safely as long as IdempotencyKey is reused.
type CreateCustomerRequest struct {
	IdempotencyKey string
	GivenName      string
	FamilyName     string
	PhoneNumber    string
	EmailAddress   string
}

// CreateCustomer returns the id of the created (or deduplicated) customer.
func (c *Client) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (string, error) {
	logger.DebugContext(ctx, "Creating booking platform customer")

	resp, err := c.api.Customers.Create(ctx, &squaresdk.CreateCustomerRequest{
		IdempotencyKey: optional(req.IdempotencyKey),
		GivenName:      optional(req.GivenName),
		FamilyName:     optional(req.FamilyName),
		PhoneNumber:    optional(req.PhoneNumber),
		EmailAddress:   optional(req.EmailAddress),
	}, requestOptions(ctx)...)
	if err != nil {
		return "", classify(err)
	}
	if resp == nil || resp.Customer == nil || value(resp.Customer.ID) == "" {
		return "", fmt.Errorf("%w: customer id missing from response", ErrUnavailable)
	}
	return *resp.Customer.ID, nil
}

// UpdateCustomerRequest leaves empty fields untouched on the platform.
type UpdateCustomerRequest struct {
	GivenName    string
	FamilyName   string
	EmailAddress string
}

func (c *Client) UpdateCustomer(ctx context.Context, customerID string, req UpdateCustomerRequest) error {
	logger.DebugContext(ctx, "Updating booking platform customer", "external_customer_id", customerID)

	_, err := c.api.Customers.Update(ctx, &squaresdk.UpdateCustomerRequest{
		CustomerID:   customerID,
		GivenName:    optional(req.GivenName),
		FamilyName:   optional(req.FamilyName),
		EmailAddress: optional(req.EmailAddress),
	}, requestOptions(ctx)...)
	if err != nil {
		return classify(err)
	}
	return nil
}

type Booking struct {
	ID                  string               `json:"id"`
	Status              string               `json:"status"`
	StartAt             time.Time            `json:"startAt"`
	LocationID          string               `json:"locationId,omitempty"`
	CustomerID          string               `json:"customerId,omitempty"`
	CustomerNote        string               `json:"customerNote,omitempty"`
	CreatedAt           time.Time            `json:"createdAt"`
	UpdatedAt           time.Time            `json:"updatedAt"`
	AppointmentSegments []AppointmentSegment `json:"appointmentSegments,omitempty"`
}

type AppointmentSegment struct {
	DurationMinutes    int    `json:"durationMinutes"`
	ServiceVariationID string `json:"serviceVariationId"`
	TeamMemberID       string `json:"teamMemberId"`
}

// ListBookingsParams selects one customer's bookings. Empty fields are not sent.
type ListBookingsParams struct {
	CustomerID string
	LocationID string
	StartAtMin *time.Time
	StartAtMax *time.Time
}

const (
	bookingPageSize = 100
	maxBookings     = 5 * bookingPageSize
)

// ListBookings follows the platform cursor until the list ends or maxBookings
// have been read.
func (c *Client) ListBookings(ctx context.Context, params ListBookingsParams) ([]Booking, error) {
	req := &squaresdk.ListBookingsRequest{
		Limit:      squaresdk.Int(bookingPageSize),
		CustomerID: optional(params.CustomerID),
		LocationID: optional(params.LocationID),
		StartAtMin: formatTime(params.StartAtMin),
		StartAtMax: formatTime(params.StartAtMax),
	}

	logger.DebugContext(ctx, "Listing booking platform bookings", "external_customer_id", params.CustomerID)

	page, err := c.api.Bookings.List(ctx, req, requestOptions(ctx)...)
	if err != nil {
		return nil, classify(err)
	}

	var bookings []Booking
	iter := page.Iterator()
	for len(bookings) < maxBookings && iter.Next(ctx) {
		if b := iter.Current(); b != nil {
			bookings = append(bookings, fromSDKBooking(b))
		}
	}
	if err := iter.Err(); err != nil {
		return nil, classify(err)
	}
	return bookings, nil
}

func fromSDKBooking(b *squaresdk.Booking) Booking {
	out := Booking{
		ID:           value(b.ID),
		StartAt:      parseTime(b.StartAt),
		LocationID:   value(b.LocationID),
		CustomerID:   value(b.CustomerID),
		CustomerNote: value(b.CustomerNote),
		CreatedAt:    parseTime(b.CreatedAt),
		UpdatedAt:    parseTime(b.UpdatedAt),
	}
	if b.Status != nil {
		out.Status = string(*b.Status)
	}
	for _, seg := range b.AppointmentSegments {
		if seg == nil {
			continue
		}
		out.AppointmentSegments = append(out.AppointmentSegments, AppointmentSegment{
			DurationMinutes:    value(seg.DurationMinutes),
			ServiceVariationID: value(seg.ServiceVariationID),
			TeamMemberID:       seg.TeamMemberID,
		})
	}
	return out
}

// requestOptions forwards the inbound request id to the platform.
func requestOptions(ctx context.Context) []option.RequestOption {
	requestID, ok := ctx.Value(logger.RequestIDKey).(string)
	if !ok || requestID == "" {
		return nil
	}
	return []option.RequestOption{option.WithHTTPHeader(http.Header{"X-Request-Id": []string{requestID}})}
}

// classify splits SDK errors into ErrUnavailable and *APIError.
func classify(err error) error {
	var apiErr *core.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= http.StatusInternalServerError || apiErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: status %d", ErrUnavailable, apiErr.StatusCode)
		}
		return &APIError{StatusCode: apiErr.StatusCode, Detail: apiErr.Error()}
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func value[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func parseTime(s *string) time.Time {
	if s == nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return time.Time{}
	}
	return t
}
