package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists bookings.
type Repository struct {
	pool rowQuerier
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &Repository{pool: pool}
}

func newRepositoryWithQuerier(q rowQuerier) *Repository {
	return &Repository{pool: q}
}

const uniqueViolation = "23505"

// Insert persists a new booking in pending_payment state. The partial unique
// index on (professional_id, start_time) for non-cancelled rows is the
// authoritative double-booking defense; a violation surfaces as ErrConflict.
func (r *Repository) Insert(ctx context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.State = StatePendingPayment
	query := `
		INSERT INTO bookings (
			id, professional_id, event_type_id, event_name, duration_min, virtual,
			patient_name, patient_email, patient_phone, notes,
			start_time, amount_cents, payment_method, state
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query,
		b.ID, b.ProfessionalID, b.EventTypeID, b.EventName, b.DurationMin, b.Virtual,
		b.PatientName, b.PatientEmail, b.PatientPhone, b.Notes,
		b.Start, b.AmountCents, b.PaymentMethod, b.State,
	).Scan(&b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("bookings: insert failed: %w", err)
	}
	return nil
}

const selectColumns = `
	id, professional_id, event_type_id, event_name, duration_min, virtual,
	patient_name, patient_email, patient_phone, notes,
	start_time, amount_cents, payment_method,
	calendar_event_id, meeting_link, transfer_proof_url, mp_payment_id,
	state, created_at, paid_at, confirmed_at
`

// GetByID loads a booking.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	query := `SELECT ` + selectColumns + ` FROM bookings WHERE id = $1`
	b, err := r.scanOne(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bookings: select failed: %w", err)
	}
	return b, nil
}

// scanOne reads a full booking row. The columns filled after creation
// (phone, notes, calendar event, proof, payment id) are NULL on fresh rows,
// so they go through pointer intermediaries.
func (r *Repository) scanOne(row pgx.Row) (*Booking, error) {
	var (
		b                       Booking
		phone, notes            *string
		calEventID, meetingLink *string
		proofURL, mpPaymentID   *string
	)
	err := row.Scan(
		&b.ID, &b.ProfessionalID, &b.EventTypeID, &b.EventName, &b.DurationMin, &b.Virtual,
		&b.PatientName, &b.PatientEmail, &phone, &notes,
		&b.Start, &b.AmountCents, &b.PaymentMethod,
		&calEventID, &meetingLink, &proofURL, &mpPaymentID,
		&b.State, &b.CreatedAt, &b.PaidAt, &b.ConfirmedAt,
	)
	if err != nil {
		return nil, err
	}
	if phone != nil {
		b.PatientPhone = *phone
	}
	if notes != nil {
		b.Notes = *notes
	}
	if calEventID != nil {
		b.CalendarEventID = *calEventID
	}
	if meetingLink != nil {
		b.MeetingLink = *meetingLink
	}
	if proofURL != nil {
		b.TransferProofURL = *proofURL
	}
	if mpPaymentID != nil {
		b.MPPaymentID = *mpPaymentID
	}
	return &b, nil
}

// CountActiveOnDay counts non-cancelled bookings of one event type whose
// start falls inside [dayStart, dayEnd). Used for the daily cap.
func (r *Repository) CountActiveOnDay(ctx context.Context, eventTypeID uuid.UUID, dayStart, dayEnd time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM bookings
		WHERE event_type_id = $1
		  AND start_time >= $2 AND start_time < $3
		  AND state <> 'cancelled'
	`
	var count int
	if err := r.pool.QueryRow(ctx, query, eventTypeID, dayStart, dayEnd).Scan(&count); err != nil {
		return 0, fmt.Errorf("bookings: count day bookings: %w", err)
	}
	return count, nil
}

// ListActiveStarts returns the start timestamps of non-cancelled bookings of
// a professional inside [from, to). Feeds the slot engine's reservation
// filter.
func (r *Repository) ListActiveStarts(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	query := `
		SELECT start_time
		FROM bookings
		WHERE professional_id = $1
		  AND start_time >= $2 AND start_time < $3
		  AND state <> 'cancelled'
		ORDER BY start_time
	`
	rows, err := r.pool.Query(ctx, query, professionalID, from, to)
	if err != nil {
		return nil, fmt.Errorf("bookings: list starts: %w", err)
	}
	defer rows.Close()

	var starts []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("bookings: scan start: %w", err)
		}
		starts = append(starts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: iterate starts: %w", err)
	}
	return starts, nil
}

// MarkPaid transitions pending_payment → paid and records the provider
// payment id. Zero rows means the booking was not in an eligible state.
func (r *Repository) MarkPaid(ctx context.Context, id uuid.UUID, mpPaymentID string, paidAt time.Time) error {
	query := `
		UPDATE bookings
		SET state = 'paid', mp_payment_id = $2, paid_at = $3
		WHERE id = $1 AND state = 'pending_payment'
	`
	ct, err := r.pool.Exec(ctx, query, id, mpPaymentID, paidAt)
	if err != nil {
		return fmt.Errorf("bookings: mark paid: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkConfirmed transitions a live booking to confirmed, storing the
// materialized calendar event when there is one.
func (r *Repository) MarkConfirmed(ctx context.Context, id uuid.UUID, calendarEventID, meetingLink string, confirmedAt time.Time) error {
	query := `
		UPDATE bookings
		SET state = 'confirmed',
		    calendar_event_id = CASE WHEN $2 <> '' THEN $2 ELSE calendar_event_id END,
		    meeting_link = CASE WHEN $3 <> '' THEN $3 ELSE meeting_link END,
		    confirmed_at = $4
		WHERE id = $1 AND state IN ('pending_payment', 'paid')
	`
	ct, err := r.pool.Exec(ctx, query, id, calendarEventID, meetingLink, confirmedAt)
	if err != nil {
		return fmt.Errorf("bookings: mark confirmed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkCancelled transitions a live booking to cancelled.
func (r *Repository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE bookings
		SET state = 'cancelled'
		WHERE id = $1 AND state IN ('pending_payment', 'paid')
	`
	ct, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("bookings: mark cancelled: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// SetTransferProof stores the proof-of-transfer URL on a pending
// bank-transfer booking.
func (r *Repository) SetTransferProof(ctx context.Context, id uuid.UUID, url string) error {
	query := `
		UPDATE bookings
		SET transfer_proof_url = $2
		WHERE id = $1 AND state = 'pending_payment'
	`
	ct, err := r.pool.Exec(ctx, query, id, url)
	if err != nil {
		return fmt.Errorf("bookings: set transfer proof: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// FindByPaymentID returns the booking carrying this provider payment id, if
// any. Used for webhook idempotency.
func (r *Repository) FindByPaymentID(ctx context.Context, mpPaymentID string) (*Booking, error) {
	query := `SELECT ` + selectColumns + ` FROM bookings WHERE mp_payment_id = $1`
	b, err := r.scanOne(r.pool.QueryRow(ctx, query, mpPaymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bookings: select by payment id: %w", err)
	}
	return b, nil
}
