package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ayursutra/scheduler/internal/api"
	"github.com/ayursutra/scheduler/internal/circuitbreaker"
	"github.com/ayursutra/scheduler/internal/config"
	"github.com/ayursutra/scheduler/internal/db"
	"github.com/ayursutra/scheduler/internal/dispatch"
	"github.com/ayursutra/scheduler/internal/metrics"
	"github.com/ayursutra/scheduler/internal/observ"
	"github.com/ayursutra/scheduler/internal/redis"
	"github.com/ayursutra/scheduler/internal/schedule"
	"github.com/ayursutra/scheduler/internal/scheduler"
	"github.com/ayursutra/scheduler/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting ayursutra scheduler",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Initialize repositories
	sessionRepo := db.NewSessionRepository(database, logger)
	notificationRepo := db.NewNotificationRepository(database, logger)
	userRepo := db.NewUserRepository(database, logger)

	// The duty practitioner owns sessions booked without an explicit
	// practitioner. Resolved once at startup.
	defaultPractitionerID, err := userRepo.EnsureDefaultPractitioner(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve default practitioner: %w", err)
	}
	logger.Info("default practitioner resolved",
		zap.String("practitioner_id", defaultPractitionerID.String()),
	)

	// Initialize Redis for idempotency and rate limiting
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var idempotencyService *redis.IdempotencyService
	var apiLimiter *redis.RateLimiter
	var gatewayLimiter *redis.RateLimiter
	if redisClient != nil {
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		apiLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.APIRateLimit,
			Window: cfg.APIRateWindow,
		})
		gatewayLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.GatewayRateLimit,
			Window: cfg.GatewayRateWindow,
		})
		defer redisClient.Close()
	}

	// Email via SES
	var mailer dispatch.Sender
	sesSender, err := dispatch.NewSESSender(ctx, dispatch.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		logger.Warn("SES unavailable, email reminders disabled", zap.Error(err))
	} else {
		mailer = dispatch.NewProtectedSender(sesSender,
			circuitbreaker.New(circuitbreaker.DefaultConfig("ses"), logger), logger)
	}

	// SMS and WhatsApp via Twilio
	var gateway dispatch.Sender
	if cfg.TwilioEnabled() {
		twilioSender, err := dispatch.NewTwilioSender(dispatch.TwilioConfig{
			AccountSID:   cfg.TwilioAccountSID,
			AuthToken:    cfg.TwilioAuthToken,
			SMSFrom:      cfg.TwilioSMSFrom,
			WhatsAppFrom: cfg.TwilioWhatsAppFrom,
		}, logger)
		if err != nil {
			logger.Warn("twilio unavailable, sms and whatsapp reminders disabled", zap.Error(err))
		} else {
			gateway = dispatch.NewProtectedSender(twilioSender,
				circuitbreaker.New(circuitbreaker.DefaultConfig("twilio"), logger), logger)
		}
	}

	logger.Info("initialized delivery channels",
		zap.Bool("email_enabled", mailer != nil),
		zap.Bool("twilio_enabled", gateway != nil),
	)

	dispatcher := dispatch.New(notificationRepo, mailer, gateway, gatewayLimiter, dispatch.Config{
		CountryCode: cfg.DefaultCountryCode,
	}, logger)

	// Domain services
	generator := schedule.New(userRepo, sessionRepo, defaultPractitionerID, logger)
	sessionService := session.NewService(sessionRepo, userRepo, logger)

	// Reminder scheduler
	reminder := scheduler.New(sessionRepo, userRepo, notificationRepo, dispatcher, scheduler.Config{
		Interval:  cfg.SchedulerInterval,
		Lookahead: cfg.SchedulerLookahead,
	}, logger)

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()

	go reminder.Start(schedulerCtx)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	var handler *api.Handler
	if idempotencyService != nil {
		handler = api.NewHandlerWithIdempotency(logger, generator, sessionService, notificationRepo, userRepo, dispatcher, idempotencyService)
	} else {
		handler = api.NewHandler(logger, generator, sessionService, notificationRepo, userRepo, dispatcher)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(apiLimiter, logger, api.UserKeyFunc))

		r.Get("/sessions", handler.ListSessions)
		r.Post("/sessions", handler.CreateSessions)
		r.Post("/sessions/slot", handler.CreateSlot)
		r.Put("/sessions/{id}", handler.UpdateSession)
		r.Put("/sessions/{id}/status", handler.UpdateSessionStatus)
		r.Delete("/sessions/delete/{id}", handler.DeleteSession)

		r.Post("/notifications", handler.CreateNotification)
		r.Get("/notifications", handler.ListNotifications)
		r.Post("/notifications/{id}/mark-sent", handler.MarkNotificationSent)

		r.Post("/admin/send-test-whatsapp", handler.SendTestWhatsApp)
		r.Post("/admin/twilio-status", handler.TwilioStatus)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		schedulerCancel()

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
