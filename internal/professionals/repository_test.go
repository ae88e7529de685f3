package professionals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/turnia/turnia-platform/internal/secrets"
)

func profRows(t *testing.T, id uuid.UUID, refreshToken *string) *pgxmock.Rows {
	t.Helper()
	var access *string
	if refreshToken != nil {
		a := "access-cipher"
		access = &a
	}
	expiry := time.Now().Add(30 * time.Minute)
	calID := "primary"
	return pgxmock.NewRows([]string{
		"id", "slug", "name", "email", "payment_method",
		"transfer_alias", "transfer_cbu", "transfer_holder",
		"mp_access_token",
		"calendar_access_token", "calendar_refresh_token", "calendar_token_expiry", "calendar_id",
		"active", "created_at",
	}).AddRow(
		id, "dra-gomez", "Dra. Gomez", "gomez@example.com", "mercadopago",
		nil, nil, nil,
		nil,
		access, refreshToken, &expiry, &calID,
		true, time.Now(),
	)
}

func TestGetBySlugWithCalendar(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	refresh := "refresh-cipher"
	mock.ExpectQuery("SELECT (.+) FROM professionals WHERE slug =").
		WithArgs("dra-gomez").
		WillReturnRows(profRows(t, id, &refresh))

	repo := newRepositoryWithQuerier(mock, secrets.Plaintext{})
	p, err := repo.GetBySlug(context.Background(), "dra-gomez")
	if err != nil {
		t.Fatalf("GetBySlug: %v", err)
	}
	if p.ID != id || p.Slug != "dra-gomez" {
		t.Fatalf("unexpected professional: %+v", p)
	}
	if !p.CalendarConnected() {
		t.Fatal("expected calendar connected")
	}
	if p.Calendar.RefreshToken != "refresh-cipher" {
		t.Fatalf("refresh token not decoded: %q", p.Calendar.RefreshToken)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetBySlugNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM professionals WHERE slug =").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	repo := newRepositoryWithQuerier(mock, secrets.Plaintext{})
	if _, err := repo.GetBySlug(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetBySlugNoCalendar(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM professionals WHERE slug =").
		WithArgs("dra-gomez").
		WillReturnRows(profRows(t, id, nil))

	repo := newRepositoryWithQuerier(mock, secrets.Plaintext{})
	p, err := repo.GetBySlug(context.Background(), "dra-gomez")
	if err != nil {
		t.Fatalf("GetBySlug: %v", err)
	}
	if p.CalendarConnected() {
		t.Fatal("expected calendar disconnected")
	}
}

func TestSaveCalendarCredentialsEncrypts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	expiry := time.Now().Add(time.Hour)
	mock.ExpectExec("UPDATE professionals").
		WithArgs(id, "tok", "ref", expiry, "primary").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := newRepositoryWithQuerier(mock, secrets.Plaintext{})
	err = repo.SaveCalendarCredentials(context.Background(), id, &CalendarCredentials{
		AccessToken:  "tok",
		RefreshToken: "ref",
		Expiry:       expiry,
		CalendarID:   "primary",
	})
	if err != nil {
		t.Fatalf("SaveCalendarCredentials: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSaveCalendarCredentialsMissingRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE professionals").
		WithArgs(id, "tok", "ref", pgxmock.AnyArg(), "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := newRepositoryWithQuerier(mock, secrets.Plaintext{})
	err = repo.SaveCalendarCredentials(context.Background(), id, &CalendarCredentials{
		AccessToken:  "tok",
		RefreshToken: "ref",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
