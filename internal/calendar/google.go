package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/turnia/turnia-platform/internal/professionals"
	"github.com/turnia/turnia-platform/pkg/logging"
)

// credentialSource loads and persists per-professional OAuth tokens.
type credentialSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*professionals.Professional, error)
	SaveCalendarCredentials(ctx context.Context, id uuid.UUID, creds *professionals.CalendarCredentials) error
	ClearCalendarCredentials(ctx context.Context, id uuid.UUID) error
}

// GoogleAdapter talks to Google Calendar on behalf of professionals.
type GoogleAdapter struct {
	oauth   *oauth2.Config
	creds   credentialSource
	timeout time.Duration
	logger  *logging.Logger

	// Token refresh is serialized per professional so two concurrent
	// requests cannot both redeem the same refresh token.
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// GoogleConfig carries the OAuth application credentials.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Timeout      time.Duration
}

// NewGoogleAdapter builds the adapter.
func NewGoogleAdapter(cfg GoogleConfig, creds credentialSource, logger *logging.Logger) *GoogleAdapter {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 6 * time.Second
	}
	return &GoogleAdapter{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{gcal.CalendarEventsScope, gcal.CalendarReadonlyScope},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.google.com/o/oauth2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
			},
		},
		creds:   creds,
		timeout: cfg.Timeout,
		logger:  logger,
		locks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

// FreeBusy returns the busy intervals of the professional's calendar.
func (g *GoogleAdapter) FreeBusy(ctx context.Context, professionalID uuid.UUID, timeMin, timeMax time.Time) ([]Interval, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	svc, calendarID, err := g.service(ctx, professionalID)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: timeMin.Format(time.RFC3339),
		TimeMax: timeMax.Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: freebusy query: %w", err)
	}

	var intervals []Interval
	for _, cal := range resp.Calendars {
		for _, busy := range cal.Busy {
			start, err := time.Parse(time.RFC3339, busy.Start)
			if err != nil {
				continue
			}
			end, err := time.Parse(time.RFC3339, busy.End)
			if err != nil {
				continue
			}
			intervals = append(intervals, Interval{Start: start, End: end})
		}
	}
	return intervals, nil
}

// CreateEvent materializes a booking on the professional's calendar. For
// virtual bookings a Meet conference is requested and its link returned.
func (g *GoogleAdapter) CreateEvent(ctx context.Context, professionalID uuid.UUID, input EventInput) (*EventResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	svc, calendarID, err := g.service(ctx, professionalID)
	if err != nil {
		return nil, err
	}

	description := input.Description
	if input.AttendeePhone != "" {
		description += "\nTel: " + input.AttendeePhone
	}
	if input.Notes != "" {
		description += "\nNotas: " + input.Notes
	}

	event := &gcal.Event{
		Summary:     input.Title,
		Description: description,
		Start: &gcal.EventDateTime{
			DateTime: input.Start.Format(time.RFC3339),
			TimeZone: "America/Argentina/Buenos_Aires",
		},
		End: &gcal.EventDateTime{
			DateTime: input.End.Format(time.RFC3339),
			TimeZone: "America/Argentina/Buenos_Aires",
		},
		Attendees: []*gcal.EventAttendee{
			{Email: input.AttendeeEmail, DisplayName: input.AttendeeName},
		},
	}

	call := svc.Events.Insert(calendarID, event).Context(ctx)
	if input.Virtual {
		event.ConferenceData = &gcal.ConferenceData{
			CreateRequest: &gcal.CreateConferenceRequest{
				RequestId: uuid.NewString(),
				ConferenceSolutionKey: &gcal.ConferenceSolutionKey{
					Type: "hangoutsMeet",
				},
			},
		}
		call = call.ConferenceDataVersion(1)
	}

	created, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: create event: %w", err)
	}

	return &EventResult{
		EventID:     created.Id,
		MeetingLink: created.HangoutLink,
		HTMLLink:    created.HtmlLink,
	}, nil
}

// DeleteEvent removes a previously materialized event.
func (g *GoogleAdapter) DeleteEvent(ctx context.Context, professionalID uuid.UUID, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	svc, calendarID, err := g.service(ctx, professionalID)
	if err != nil {
		return err
	}
	if err := svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("calendar: delete event: %w", err)
	}
	return nil
}

// service builds a calendar client with a fresh access token, refreshing and
// persisting credentials when needed.
func (g *GoogleAdapter) service(ctx context.Context, professionalID uuid.UUID) (*gcal.Service, string, error) {
	lock := g.refreshLock(professionalID)
	lock.Lock()
	defer lock.Unlock()

	prof, err := g.creds.GetByID(ctx, professionalID)
	if err != nil {
		return nil, "", fmt.Errorf("calendar: load credentials: %w", err)
	}
	if !prof.CalendarConnected() {
		return nil, "", ErrNotConnected
	}

	token := &oauth2.Token{
		AccessToken:  prof.Calendar.AccessToken,
		RefreshToken: prof.Calendar.RefreshToken,
		Expiry:       prof.Calendar.Expiry,
	}
	if !token.Valid() {
		refreshed, err := g.oauth.TokenSource(ctx, token).Token()
		if err != nil {
			return nil, "", fmt.Errorf("calendar: refresh token: %w", err)
		}
		creds := &professionals.CalendarCredentials{
			AccessToken:  refreshed.AccessToken,
			RefreshToken: refreshed.RefreshToken,
			Expiry:       refreshed.Expiry,
			CalendarID:   prof.Calendar.CalendarID,
		}
		if creds.RefreshToken == "" {
			creds.RefreshToken = prof.Calendar.RefreshToken
		}
		if err := g.creds.SaveCalendarCredentials(ctx, professionalID, creds); err != nil {
			// Keep serving with the refreshed token; the next request
			// will refresh again.
			g.logger.Error("failed to persist refreshed calendar token",
				"professional_id", professionalID, "error", err)
		}
		token = refreshed
	}

	svc, err := gcal.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, "", fmt.Errorf("calendar: init client: %w", err)
	}

	calendarID := prof.Calendar.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	return svc, calendarID, nil
}

func (g *GoogleAdapter) refreshLock(professionalID uuid.UUID) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.locks[professionalID]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[professionalID] = lock
	}
	return lock
}

var _ Adapter = (*GoogleAdapter)(nil)
