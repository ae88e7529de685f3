package catalog

import (
	"context"
	"errors"
	"fmt"

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

// Repository persists event types and availability blocks.
type Repository struct {
	pool rowQuerier
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("catalog: pgx pool required")
	}
	return &Repository{pool: pool}
}

func newRepositoryWithQuerier(q rowQuerier) *Repository {
	return &Repository{pool: q}
}

// GetEventType loads an event type by id.
func (r *Repository) GetEventType(ctx context.Context, id uuid.UUID) (*EventType, error) {
	query := `
		SELECT id, professional_id, name, duration_min, price_cents, modality,
		       buffer_min, lead_time_min, max_per_day, active
		FROM event_types
		WHERE id = $1
	`
	var e EventType
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&e.ID, &e.ProfessionalID, &e.Name, &e.DurationMin, &e.PriceCents, &e.Modality,
		&e.BufferMin, &e.LeadTimeMin, &e.MaxPerDay, &e.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: select event type: %w", err)
	}
	return &e, nil
}

// CreateEventType inserts a validated event type.
func (r *Repository) CreateEventType(ctx context.Context, e *EventType) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	query := `
		INSERT INTO event_types (id, professional_id, name, duration_min, price_cents,
		                         modality, buffer_min, lead_time_min, max_per_day, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		e.ID, e.ProfessionalID, e.Name, e.DurationMin, e.PriceCents,
		e.Modality, e.BufferMin, e.LeadTimeMin, e.MaxPerDay, e.Active,
	)
	if err != nil {
		return fmt.Errorf("catalog: insert event type: %w", err)
	}
	return nil
}

// ListEventTypes returns a professional's active event types, ordered by name.
func (r *Repository) ListEventTypes(ctx context.Context, professionalID uuid.UUID) ([]EventType, error) {
	query := `
		SELECT id, professional_id, name, duration_min, price_cents, modality,
		       buffer_min, lead_time_min, max_per_day, active
		FROM event_types
		WHERE professional_id = $1 AND active
		ORDER BY name
	`
	rows, err := r.pool.Query(ctx, query, professionalID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list event types: %w", err)
	}
	defer rows.Close()

	var events []EventType
	for rows.Next() {
		var e EventType
		if err := rows.Scan(
			&e.ID, &e.ProfessionalID, &e.Name, &e.DurationMin, &e.PriceCents, &e.Modality,
			&e.BufferMin, &e.LeadTimeMin, &e.MaxPerDay, &e.Active,
		); err != nil {
			return nil, fmt.Errorf("catalog: scan event type: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate event types: %w", err)
	}
	return events, nil
}

// ListBlocks returns the blocks of one event type for a weekday, ordered by start.
func (r *Repository) ListBlocks(ctx context.Context, eventTypeID uuid.UUID, weekday int) ([]AvailabilityBlock, error) {
	query := `
		SELECT id, event_type_id, weekday, start_min, end_min
		FROM availability_blocks
		WHERE event_type_id = $1 AND weekday = $2
		ORDER BY start_min
	`
	rows, err := r.pool.Query(ctx, query, eventTypeID, weekday)
	if err != nil {
		return nil, fmt.Errorf("catalog: list blocks: %w", err)
	}
	defer rows.Close()
	return scanBlocks(rows)
}

// ListProfessionalBlocks returns every block of a professional's event types
// for a weekday, across all event types. Used for overlap validation.
func (r *Repository) ListProfessionalBlocks(ctx context.Context, professionalID uuid.UUID, weekday int) ([]AvailabilityBlock, error) {
	query := `
		SELECT b.id, b.event_type_id, b.weekday, b.start_min, b.end_min
		FROM availability_blocks b
		JOIN event_types e ON e.id = b.event_type_id
		WHERE e.professional_id = $1 AND b.weekday = $2
		ORDER BY b.start_min
	`
	rows, err := r.pool.Query(ctx, query, professionalID, weekday)
	if err != nil {
		return nil, fmt.Errorf("catalog: list professional blocks: %w", err)
	}
	defer rows.Close()
	return scanBlocks(rows)
}

// CreateBlock inserts a block after checking it against every block of the
// same professional on that weekday. A professional cannot be double-booked
// by their own configuration, so blocks of different event types may not
// overlap either.
func (r *Repository) CreateBlock(ctx context.Context, professionalID uuid.UUID, b *AvailabilityBlock) error {
	if err := b.Validate(); err != nil {
		return err
	}
	existing, err := r.ListProfessionalBlocks(ctx, professionalID, b.Weekday)
	if err != nil {
		return err
	}
	for i := range existing {
		if existing[i].Overlaps(b) {
			return ErrOverlap
		}
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	query := `
		INSERT INTO availability_blocks (id, event_type_id, weekday, start_min, end_min)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.pool.Exec(ctx, query, b.ID, b.EventTypeID, b.Weekday, b.StartMin, b.EndMin); err != nil {
		return fmt.Errorf("catalog: insert block: %w", err)
	}
	return nil
}

// DeleteBlock removes a block.
func (r *Repository) DeleteBlock(ctx context.Context, id uuid.UUID) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM availability_blocks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("catalog: delete block: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanBlocks(rows pgx.Rows) ([]AvailabilityBlock, error) {
	var blocks []AvailabilityBlock
	for rows.Next() {
		var b AvailabilityBlock
		if err := rows.Scan(&b.ID, &b.EventTypeID, &b.Weekday, &b.StartMin, &b.EndMin); err != nil {
			return nil, fmt.Errorf("catalog: scan block: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate blocks: %w", err)
	}
	return blocks, nil
}
