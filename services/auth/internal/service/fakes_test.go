package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/milkyano/barber-core/pkg/auth"
	"github.com/milkyano/barber-core/pkg/phone"
	"github.com/milkyano/barber-core/services/auth/internal/otp"
	"github.com/milkyano/barber-core/services/auth/internal/repository"
	"github.com/milkyano/barber-core/services/auth/internal/square"
	"github.com/stretchr/testify/require"
)

const mockCode = "123456"

var errPlatformDown = errors.New("square: connection refused")

type fakePlatform struct {
	calls atomic.Int32
	mu    sync.Mutex
	fail  bool
	// before runs inside CreateCustomer, before the id is returned.
	before func()
	gate   chan struct{}
	keys   []string

	updates   []square.UpdateCustomerRequest
	updatedID string
	updateErr error
}

func (p *fakePlatform) CreateCustomer(_ context.Context, req square.CreateCustomerRequest) (string, error) {
	n := p.calls.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, req.IdempotencyKey)
	if p.fail {
		return "", errPlatformDown
	}
	if p.before != nil {
		p.before()
	}
	return "SQ_" + string(rune('A'+n-1)), nil
}

func (p *fakePlatform) UpdateCustomer(_ context.Context, customerID string, req square.UpdateCustomerRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.updateErr != nil {
		return p.updateErr
	}
	p.updatedID = customerID
	p.updates = append(p.updates, req)
	return nil
}

func (p *fakePlatform) setFail(v bool) {
	p.mu.Lock()
	p.fail = v
	p.mu.Unlock()
}

type fakeBookings struct {
	got      square.ListBookingsParams
	bookings []square.Booking
	err      error
}

func (b *fakeBookings) ListBookings(_ context.Context, params square.ListBookingsParams) ([]square.Booking, error) {
	b.got = params
	return b.bookings, b.err
}

// recordingGateway wraps the fixed-code gateway and can simulate outages.
type recordingGateway struct {
	*otp.FixedCodeGateway
	mu      sync.Mutex
	sent    []string
	sendErr error
}

func (g *recordingGateway) Send(ctx context.Context, phoneNumber string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return g.sendErr
	}
	g.sent = append(g.sent, phoneNumber)
	return g.FixedCodeGateway.Send(ctx, phoneNumber)
}

type publishedEvent struct {
	subject string
	data    any
}

type fakeBus struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (b *fakeBus) Publish(_ context.Context, subject string, data interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, publishedEvent{subject: subject, data: data})
	return nil
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) count(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.subject == subject {
			n++
		}
	}
	return n
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *fakeMailer) SendWelcomeEmail(_ context.Context, toEmail, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, toEmail)
	return nil
}

type fixture struct {
	svc      AuthService
	users    *repository.MemoryUserRepository
	platform *fakePlatform
	gateway  *recordingGateway
	bus      *fakeBus
	mailer   *fakeMailer
	tokens   *auth.Issuer
	hasher   *PasswordHasher
}

var testArgonParams = &argon2id.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newFixture(t *testing.T, opts ...func(*AuthDeps)) *fixture {
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
	hasher, err := NewPasswordHasher(testArgonParams)
	require.NoError(t, err)

	f := &fixture{
		users:    repository.NewMemoryUserRepository(),
		platform: &fakePlatform{},
		gateway:  &recordingGateway{FixedCodeGateway: otp.NewFixedCodeGateway(mockCode)},
		bus:      &fakeBus{},
		mailer:   &fakeMailer{},
		tokens:   tokens,
		hasher:   hasher,
	}

	deps := AuthDeps{
		Users:         f.users,
		OTP:           f.gateway,
		Sync:          NewCustomerSync(f.users, f.platform, f.bus),
		Tokens:        tokens,
		Hasher:        hasher,
		Phones:        phone.NewNormalizer("AU"),
		Mailer:        f.mailer,
		EventBus:      f.bus,
		OTPRateLimit:  5,
		OTPRateWindow: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.svc = NewAuthService(deps)
	return f
}
