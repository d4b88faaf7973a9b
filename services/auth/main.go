package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/milkyano/barber-core/pkg/auth"
	"github.com/milkyano/barber-core/pkg/config"
	"github.com/milkyano/barber-core/pkg/database"
	"github.com/milkyano/barber-core/pkg/events"
	"github.com/milkyano/barber-core/pkg/logger"
	mw "github.com/milkyano/barber-core/pkg/middleware"
	"github.com/milkyano/barber-core/pkg/phone"
	"github.com/milkyano/barber-core/services/auth/internal/handlers"
	"github.com/milkyano/barber-core/services/auth/internal/mailer"
	"github.com/milkyano/barber-core/services/auth/internal/otp"
	"github.com/milkyano/barber-core/services/auth/internal/repository"
	"github.com/milkyano/barber-core/services/auth/internal/service"
	"github.com/milkyano/barber-core/services/auth/internal/square"
	"github.com/redis/go-redis/v9"
)

const serviceName = "auth"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Identity store
	var userRepo repository.UserRepository
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("Using in-memory identity store, data is lost on restart")
		userRepo = repository.NewMemoryUserRepository()
	default:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		userRepo = repository.NewUserRepository(pool)
	}

	// Rate limiting
	var rateLimitRepo repository.RateLimitRepository
	if redisOpts, err := redis.ParseURL(cfg.Redis.URL); err != nil {
		logger.Warn("Invalid REDIS_URL, rate limiting disabled", "error", err)
	} else {
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()
		rateLimitRepo = repository.NewRateLimitRepository(rdb)
	}

	// Event bus
	var eventBus events.Publisher
	if bus, err := events.NewNATSEventBus(cfg.NATS.URL, "barber-core-"+serviceName); err != nil {
		logger.Warn("NATS unavailable, events disabled", "error", err)
	} else {
		defer bus.Close()
		eventBus = bus
	}

	// OTP gateway
	var otpGateway otp.Gateway
	if cfg.OTP.MockCode != "" {
		logger.Warn("MOCK_OTP set, SMS codes are not sent")
		otpGateway = otp.NewFixedCodeGateway(cfg.OTP.MockCode)
	} else {
		gw, err := otp.NewTwilioGateway(cfg.OTP.TwilioAccountSID, cfg.OTP.TwilioAuthToken, cfg.OTP.TwilioServiceSID, cfg.OTP.Timeout)
		if err != nil {
			logger.Error("Failed to configure OTP gateway", "error", err)
			os.Exit(1)
		}
		otpGateway = gw
	}

	// Booking platform
	var (
		customerPlatform service.CustomerPlatform
		bookingLister    service.BookingLister
	)
	if cfg.Square.AccessToken != "" {
		client := square.NewClient(square.Config{
			BaseURL:     cfg.Square.BaseURL,
			AccessToken: cfg.Square.AccessToken,
			Version:     cfg.Square.Version,
			Timeout:     cfg.Square.Timeout,
		})
		customerPlatform = client
		bookingLister = client
	} else {
		logger.Warn("SQUARE_ACCESS_TOKEN not set, customers will not be linked to the booking platform")
	}

	// Mailer
	var mailService mailer.Service
	if cfg.Email.DevMode {
		mailService = mailer.NewDevMailer()
	} else {
		mailService = mailer.NewMailerSend(cfg.Email.MailerSendKey, cfg.Email.FromName, cfg.Email.From)
	}

	tokens, err := auth.NewIssuer(auth.IssuerConfig{
		AccessSecret:  cfg.Auth.AccessTokenSecret,
		RefreshSecret: cfg.Auth.RefreshTokenSecret,
		Issuer:        cfg.Auth.Issuer,
		Audience:      cfg.Auth.Audience,
		AccessTTL:     cfg.Auth.AccessTokenTTL,
		RefreshTTL:    cfg.Auth.RefreshTokenTTL,
	})
	if err != nil {
		logger.Error("Failed to configure token issuer", "error", err)
		os.Exit(1)
	}

	hasher, err := service.NewPasswordHasher(nil)
	if err != nil {
		logger.Error("Failed to configure password hasher", "error", err)
		os.Exit(1)
	}

	// Initialize services
	customerSync := service.NewCustomerSync(userRepo, customerPlatform, eventBus)
	authService := service.NewAuthService(service.AuthDeps{
		Users:         userRepo,
		OTP:           otpGateway,
		Limiter:       rateLimitRepo,
		Sync:          customerSync,
		Tokens:        tokens,
		Hasher:        hasher,
		Phones:        phone.NewNormalizer(cfg.Auth.PhoneDefaultRegion),
		Mailer:        mailService,
		EventBus:      eventBus,
		OTPRateLimit:  cfg.OTP.RateLimitRequests,
		OTPRateWindow: cfg.OTP.RateLimitWindow,
	})
	customerService := service.NewCustomerService(userRepo, customerSync, bookingLister, cfg.Square.LocationID)

	h := handlers.New(authService, customerService, tokens, rateLimitRepo, cfg.Auth.AdminSecretKey)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName(serviceName))
	r.Use(mw.Logging)
	r.Use(mw.CORS(cfg.Server.AllowedOrigins))
	r.Use(mw.Health)

	r.NotFound(handlers.NotFound)
	h.Routes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down auth service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Auth service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting auth service", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Auth service error", "error", err)
		os.Exit(1)
	}
	<-done
}
