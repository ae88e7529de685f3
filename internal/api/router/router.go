package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/turnia/turnia-platform/internal/bookings"
	"github.com/turnia/turnia-platform/internal/calendar"
	"github.com/turnia/turnia-platform/internal/catalog"
	httpmiddleware "github.com/turnia/turnia-platform/internal/http/middleware"
	"github.com/turnia/turnia-platform/internal/payments"
	"github.com/turnia/turnia-platform/internal/professionals"
	"github.com/turnia/turnia-platform/internal/slots"
	"github.com/turnia/turnia-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger               *logging.Logger
	ProfessionalsHandler *professionals.Handler
	SlotsHandler         *slots.Handler
	BookingsHandler      *bookings.Handler
	CatalogHandler       *catalog.Handler
	CalendarOAuth        *calendar.OAuthHandler
	PaymentsWebhook      *payments.WebhookHandler
	MetricsHandler       http.Handler
	CORSAllowedOrigins   []string

	// ProfessionalAuthSecret signs the JWTs for /me routes. Empty disables
	// the professional surface entirely.
	ProfessionalAuthSecret string

	// PublicRateLimit caps anonymous traffic per IP, req/s. Zero disables.
	PublicRateLimit float64
	PublicRateBurst int
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Patient-facing endpoints.
	r.Group(func(public chi.Router) {
		if cfg.PublicRateLimit > 0 {
			public.Use(httpmiddleware.RateLimit(cfg.PublicRateLimit, cfg.PublicRateBurst))
		}
		if cfg.ProfessionalsHandler != nil {
			public.Get("/professionals/{professionalSlug}", cfg.ProfessionalsHandler.GetProfile)
		}
		if cfg.SlotsHandler != nil {
			public.Get("/slots/{professionalSlug}", cfg.SlotsHandler.GetSlots)
		}
		if cfg.BookingsHandler != nil {
			public.Post("/bookings", cfg.BookingsHandler.CreateBooking)
			public.Get("/bookings/{bookingID}/status", cfg.BookingsHandler.Status)
			public.Post("/bookings/{bookingID}/transfer-proof", cfg.BookingsHandler.AttachTransferProof)
			public.Get("/booking-actions", cfg.BookingsHandler.HandleAction)
		}
	})

	// Provider callbacks, never rate limited.
	if cfg.PaymentsWebhook != nil {
		r.Post("/webhooks/mercadopago", cfg.PaymentsWebhook.Handle)
	}
	if cfg.CalendarOAuth != nil {
		r.Get("/oauth/google/callback", cfg.CalendarOAuth.Callback)
	}

	// Professional self-service, JWT protected.
	if cfg.ProfessionalAuthSecret != "" {
		r.Route("/me", func(me chi.Router) {
			me.Use(httpmiddleware.ProfessionalJWT(cfg.ProfessionalAuthSecret))
			if cfg.CatalogHandler != nil {
				me.Get("/event-types", cfg.CatalogHandler.ListEventTypes)
				me.Post("/event-types", cfg.CatalogHandler.CreateEventType)
				me.Post("/availability-blocks", cfg.CatalogHandler.CreateBlock)
				me.Delete("/availability-blocks/{blockID}", cfg.CatalogHandler.DeleteBlock)
			}
			if cfg.CalendarOAuth != nil {
				me.Get("/calendar/connect", cfg.CalendarOAuth.Connect)
				me.Delete("/calendar", cfg.CalendarOAuth.Disconnect)
			}
		})
	}

	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
