package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Secret used both for credential encryption and magic-link signing.
	CredentialSecret       string
	BookingActionSecret    string
	ProfessionalAuthSecret string

	CORSAllowedOrigins []string
	PublicRateLimit    float64
	PublicRateBurst    int

	// Mercado Pago
	MercadoPagoBaseURL  string
	MercadoPagoWebhook  string
	MercadoPagoTimeout  time.Duration
	PlatformAccessToken string

	// Google Calendar OAuth app credentials
	GoogleClientID      string
	GoogleClientSecret  string
	GoogleRedirectURI   string
	CalendarCallTimeout time.Duration

	// Redis (velocity limits + free/busy cache)
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	FreeBusyTTL   time.Duration

	// Booking velocity limits
	MaxBookingsPerPatient int
	BookingWindowHours    int

	// Email
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	AWSRegion         string
	AWSAccessKeyID    string
	AWSSecretKey      string
	SESFromEmail      string
	SESFromName       string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		CredentialSecret:       getEnv("CREDENTIAL_SECRET", ""),
		BookingActionSecret:    getEnv("BOOKING_ACTION_SECRET", ""),
		ProfessionalAuthSecret: getEnv("PROFESSIONAL_AUTH_SECRET", ""),

		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", nil),
		PublicRateLimit:    getEnvAsFloat("PUBLIC_RATE_LIMIT", 10),
		PublicRateBurst:    getEnvAsInt("PUBLIC_RATE_BURST", 20),

		MercadoPagoBaseURL:  getEnv("MP_BASE_URL", "https://api.mercadopago.com"),
		MercadoPagoWebhook:  getEnv("MP_WEBHOOK_URL", ""),
		MercadoPagoTimeout:  getEnvAsDuration("MP_TIMEOUT", 8*time.Second),
		PlatformAccessToken: getEnv("MP_PLATFORM_ACCESS_TOKEN", ""),

		GoogleClientID:      getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:  getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:   getEnv("GOOGLE_REDIRECT_URI", ""),
		CalendarCallTimeout: getEnvAsDuration("CALENDAR_TIMEOUT", 6*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		FreeBusyTTL:   getEnvAsDuration("FREEBUSY_CACHE_TTL", 60*time.Second),

		MaxBookingsPerPatient: getEnvAsInt("MAX_BOOKINGS_PER_PATIENT", 5),
		BookingWindowHours:    getEnvAsInt("BOOKING_WINDOW_HOURS", 24),

		EmailProvider:     getEnv("EMAIL_PROVIDER", "sendgrid"),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Turnia"),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:    getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Turnia"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsSlice parses a comma-separated environment variable
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
