package professionals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turnia/turnia-platform/internal/secrets"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository loads professionals and persists their provider credentials.
type Repository struct {
	pool  rowQuerier
	codec secrets.Codec
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool, codec secrets.Codec) *Repository {
	if pool == nil {
		panic("professionals: pgx pool required")
	}
	if codec == nil {
		panic("professionals: secrets codec required")
	}
	return &Repository{pool: pool, codec: codec}
}

func newRepositoryWithQuerier(q rowQuerier, codec secrets.Codec) *Repository {
	return &Repository{pool: q, codec: codec}
}

const selectColumns = `
	id, slug, name, email, payment_method,
	transfer_alias, transfer_cbu, transfer_holder,
	mp_access_token,
	calendar_access_token, calendar_refresh_token, calendar_token_expiry, calendar_id,
	active, created_at
`

// GetBySlug returns an active or inactive professional by public slug.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*Professional, error) {
	query := `SELECT ` + selectColumns + ` FROM professionals WHERE slug = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, slug))
}

// GetByID returns a professional by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Professional, error) {
	query := `SELECT ` + selectColumns + ` FROM professionals WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// SaveCalendarCredentials stores refreshed tokens, encrypted at rest.
func (r *Repository) SaveCalendarCredentials(ctx context.Context, id uuid.UUID, creds *CalendarCredentials) error {
	if creds == nil {
		return errors.New("professionals: credentials required")
	}
	access, err := r.codec.Encrypt(creds.AccessToken)
	if err != nil {
		return fmt.Errorf("professionals: encrypt access token: %w", err)
	}
	refresh, err := r.codec.Encrypt(creds.RefreshToken)
	if err != nil {
		return fmt.Errorf("professionals: encrypt refresh token: %w", err)
	}
	query := `
		UPDATE professionals
		SET calendar_access_token = $2,
		    calendar_refresh_token = $3,
		    calendar_token_expiry = $4,
		    calendar_id = $5
		WHERE id = $1
	`
	ct, err := r.pool.Exec(ctx, query, id, access, refresh, creds.Expiry, creds.CalendarID)
	if err != nil {
		return fmt.Errorf("professionals: save calendar credentials: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearCalendarCredentials disconnects the professional's calendar.
func (r *Repository) ClearCalendarCredentials(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE professionals
		SET calendar_access_token = NULL,
		    calendar_refresh_token = NULL,
		    calendar_token_expiry = NULL,
		    calendar_id = NULL
		WHERE id = $1
	`
	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("professionals: clear calendar credentials: %w", err)
	}
	return nil
}

func (r *Repository) scanOne(row pgx.Row) (*Professional, error) {
	var (
		p                     Professional
		alias, cbu, holder    *string
		mpToken               *string
		calAccess, calRefresh *string
		calExpiry             *time.Time
		calID                 *string
	)
	err := row.Scan(
		&p.ID, &p.Slug, &p.Name, &p.Email, &p.PaymentMethod,
		&alias, &cbu, &holder,
		&mpToken,
		&calAccess, &calRefresh, &calExpiry, &calID,
		&p.Active, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("professionals: select failed: %w", err)
	}

	if alias != nil {
		p.Transfer.Alias = *alias
	}
	if cbu != nil {
		p.Transfer.CBU = *cbu
	}
	if holder != nil {
		p.Transfer.Holder = *holder
	}
	if mpToken != nil && *mpToken != "" {
		token, err := r.codec.Decrypt(*mpToken)
		if err != nil {
			return nil, fmt.Errorf("professionals: decrypt mp token: %w", err)
		}
		p.MPAccessToken = token
	}
	if calRefresh != nil && *calRefresh != "" {
		creds := &CalendarCredentials{}
		refresh, err := r.codec.Decrypt(*calRefresh)
		if err != nil {
			return nil, fmt.Errorf("professionals: decrypt refresh token: %w", err)
		}
		creds.RefreshToken = refresh
		if calAccess != nil && *calAccess != "" {
			access, err := r.codec.Decrypt(*calAccess)
			if err != nil {
				return nil, fmt.Errorf("professionals: decrypt access token: %w", err)
			}
			creds.AccessToken = access
		}
		if calExpiry != nil {
			creds.Expiry = *calExpiry
		}
		if calID != nil {
			creds.CalendarID = *calID
		}
		p.Calendar = creds
	}
	return &p, nil
}
