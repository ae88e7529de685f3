package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/turnia/turnia-platform/cmd/mainconfig"
	"github.com/turnia/turnia-platform/internal/api/router"
	"github.com/turnia/turnia-platform/internal/bookings"
	"github.com/turnia/turnia-platform/internal/calendar"
	"github.com/turnia/turnia-platform/internal/catalog"
	appconfig "github.com/turnia/turnia-platform/internal/config"
	"github.com/turnia/turnia-platform/internal/notify"
	"github.com/turnia/turnia-platform/internal/observability/metrics"
	"github.com/turnia/turnia-platform/internal/payments"
	"github.com/turnia/turnia-platform/internal/professionals"
	"github.com/turnia/turnia-platform/internal/secrets"
	"github.com/turnia/turnia-platform/internal/slots"
	"github.com/turnia/turnia-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting turnia API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, velocity limits and free/busy cache disabled", "error", err)
			redisClient = nil
		}
	}

	cipher, err := secrets.NewCipher(cfg.CredentialSecret)
	if err != nil {
		logger.Error("failed to initialize credential cipher", "error", err)
		os.Exit(1)
	}

	// Repositories
	professionalsRepo := professionals.NewRepository(pool, cipher)
	catalogRepo := catalog.NewRepository(pool)
	bookingsRepo := bookings.NewRepository(pool)
	processedStore := payments.NewProcessedStore(pool)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	slotMetrics := metrics.NewSlotMetrics(registry)
	bookingMetrics := metrics.NewBookingMetrics(registry)

	// External adapters
	googleAdapter := calendar.NewGoogleAdapter(calendar.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURI:  cfg.GoogleRedirectURI,
		Timeout:      cfg.CalendarCallTimeout,
	}, professionalsRepo, logger)

	var calendarAdapter calendar.Adapter = googleAdapter
	if redisClient != nil {
		calendarAdapter = calendar.NewCachedAdapter(googleAdapter, redisClient, cfg.FreeBusyTTL, logger)
	}

	paymentsClient := payments.NewClient(cfg.MercadoPagoBaseURL, cfg.MercadoPagoTimeout)

	emailSender := buildEmailSender(ctx, cfg, logger)
	notifier := notify.NewService(emailSender, logger)

	// Core services
	engine := slots.NewEngine(professionalsRepo, catalogRepo, bookingsRepo, calendarAdapter, logger)

	signer := bookings.NewActionSigner(cfg.BookingActionSecret)
	limiter := bookings.NewVelocityLimiter(
		redisClient,
		cfg.MaxBookingsPerPatient,
		time.Duration(cfg.BookingWindowHours)*time.Hour,
		logger,
	)

	bookingService := bookings.NewService(bookings.ServiceConfig{
		Directory:     professionalsRepo,
		Catalog:       catalogRepo,
		Store:         bookingsRepo,
		Calendar:      calendarAdapter,
		Payments:      paymentsClient,
		Notifier:      notifier,
		Signer:        signer,
		Limiter:       limiter,
		Metrics:       bookingMetrics,
		Logger:        logger,
		PublicBaseURL: cfg.PublicBaseURL,
		PlatformToken: cfg.PlatformAccessToken,
	})

	// HTTP handlers
	professionalsHandler := professionals.NewHandler(professionalsRepo, catalogRepo, logger)
	slotsHandler := slots.NewHandler(engine, slotMetrics, logger)
	bookingsHandler := bookings.NewHandler(bookingService, signer, logger)
	catalogHandler := catalog.NewHandler(catalogRepo, logger)
	oauthHandler := calendar.NewOAuthHandler(googleAdapter, logger)
	webhookHandler := payments.NewWebhookHandler(bookingService, processedStore, logger)

	r := router.New(&router.Config{
		Logger:                 logger,
		ProfessionalsHandler:   professionalsHandler,
		SlotsHandler:           slotsHandler,
		BookingsHandler:        bookingsHandler,
		CatalogHandler:         catalogHandler,
		CalendarOAuth:          oauthHandler,
		PaymentsWebhook:        webhookHandler,
		MetricsHandler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		CORSAllowedOrigins:     cfg.CORSAllowedOrigins,
		ProfessionalAuthSecret: cfg.ProfessionalAuthSecret,
		PublicRateLimit:        cfg.PublicRateLimit,
		PublicRateBurst:        cfg.PublicRateBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func buildEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		if cfg.SendGridAPIKey == "" {
			logger.Warn("SENDGRID_API_KEY not set, emails will be logged only")
			return notify.NewStubEmailSender(logger)
		}
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	case "ses":
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config, emails will be logged only", "error", err)
			return notify.NewStubEmailSender(logger)
		}
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger)
	default:
		return notify.NewStubEmailSender(logger)
	}
}
