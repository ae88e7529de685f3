package payments

import (
	"context"
	"testing"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestAlreadyProcessed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT 1 FROM processed_events").
		WithArgs("mercadopago", "notification:9001").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))

	store := newProcessedStoreWithExec(mock)
	done, err := store.AlreadyProcessed(context.Background(), "mercadopago", "notification:9001")
	if err != nil {
		t.Fatalf("AlreadyProcessed: %v", err)
	}
	if !done {
		t.Fatal("expected event to be marked processed")
	}
}

func TestAlreadyProcessedNoRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT 1 FROM processed_events").
		WithArgs("mercadopago", "notification:9001").
		WillReturnError(pgx.ErrNoRows)

	store := newProcessedStoreWithExec(mock)
	done, err := store.AlreadyProcessed(context.Background(), "mercadopago", "notification:9001")
	if err != nil {
		t.Fatalf("AlreadyProcessed: %v", err)
	}
	if done {
		t.Fatal("unseen event must report false")
	}
}

func TestMarkProcessed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("mercadopago", "notification:9001").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := newProcessedStoreWithExec(mock)
	inserted, err := store.MarkProcessed(context.Background(), "mercadopago", "notification:9001")
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if !inserted {
		t.Fatal("expected insert to report true")
	}
}

func TestMarkProcessedConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("mercadopago", "notification:9001").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	store := newProcessedStoreWithExec(mock)
	inserted, err := store.MarkProcessed(context.Background(), "mercadopago", "notification:9001")
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if inserted {
		t.Fatal("conflicting insert must report false")
	}
}
