package calendar

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/turnia/turnia-platform/internal/professionals"
)

// AuthURL returns the Google consent URL for a professional. The state
// parameter carries the professional id back through the callback.
func (g *GoogleAdapter) AuthURL(professionalID uuid.UUID) string {
	// offline + consent force Google to issue a refresh token.
	return g.oauth.AuthCodeURL(professionalID.String(),
		oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange redeems the callback code and stores the professional's tokens.
func (g *GoogleAdapter) Exchange(ctx context.Context, state, code string) (uuid.UUID, error) {
	professionalID, err := uuid.Parse(state)
	if err != nil {
		return uuid.Nil, fmt.Errorf("calendar: callback state is not a professional id: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return uuid.Nil, fmt.Errorf("calendar: code exchange failed: %w", err)
	}

	creds := &professionals.CalendarCredentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		CalendarID:   "primary",
	}
	// Google omits the refresh token on re-consent; keep the stored one.
	if creds.RefreshToken == "" {
		prof, err := g.creds.GetByID(ctx, professionalID)
		if err == nil && prof.Calendar != nil {
			creds.RefreshToken = prof.Calendar.RefreshToken
			creds.CalendarID = prof.Calendar.CalendarID
		}
	}
	if creds.RefreshToken == "" {
		return uuid.Nil, fmt.Errorf("calendar: google returned no refresh token for %s", professionalID)
	}
	if err := g.creds.SaveCalendarCredentials(ctx, professionalID, creds); err != nil {
		return uuid.Nil, fmt.Errorf("calendar: persist credentials: %w", err)
	}
	g.logger.Info("calendar connected", "professional_id", professionalID)
	return professionalID, nil
}

// Disconnect removes the professional's stored tokens. Slot computation falls
// back to local availability only.
func (g *GoogleAdapter) Disconnect(ctx context.Context, professionalID uuid.UUID) error {
	if err := g.creds.ClearCalendarCredentials(ctx, professionalID); err != nil {
		return fmt.Errorf("calendar: clear credentials: %w", err)
	}
	g.logger.Info("calendar disconnected", "professional_id", professionalID)
	return nil
}
