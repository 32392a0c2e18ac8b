package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"eventscope/internal/kv"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

func TestGet(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT value FROM kv_entries WHERE key = \\$1").
		WithArgs(kv.KeyUserPreferences).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(`{"preferredCategories":["food"]}`))

	v, ok, err := NewWithDB(db).Get(context.Background(), kv.KeyUserPreferences)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || v != `{"preferredCategories":["food"]}` {
		t.Fatalf("got (%q, %v)", v, ok)
	}
}

func TestGet_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT value FROM kv_entries WHERE key = \\$1").
		WithArgs(kv.KeyEventsCache).
		WillReturnError(sql.ErrNoRows)

	_, ok, err := NewWithDB(db).Get(context.Background(), kv.KeyEventsCache)
	if err != nil {
		t.Fatalf("absent key should not be an error, got %v", err)
	}
	if ok {
		t.Fatal("expected absent")
	}
}

func TestGet_DatabaseErrorIsUnavailable(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT value FROM kv_entries").
		WithArgs(kv.KeyEventsCache).
		WillReturnError(errors.New("connection reset"))

	_, _, err := NewWithDB(db).Get(context.Background(), kv.KeyEventsCache)
	if !errors.Is(err, kv.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSet_Upserts(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO kv_entries .+ ON CONFLICT \\(key\\) DO UPDATE").
		WithArgs(kv.KeyEventsCache, `{"data":{},"timestamp":1}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewWithDB(db).Set(context.Background(), kv.KeyEventsCache, `{"data":{},"timestamp":1}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSet_InvalidKeyNeverHitsDatabase(t *testing.T) {
	db, _ := newMockDB(t)
	if err := NewWithDB(db).Set(context.Background(), "../etc", "x"); err == nil {
		t.Fatal("expected invalid key error")
	}
}

func TestRemove(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM kv_entries WHERE key = \\$1").
		WithArgs(kv.KeyEventsCache).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := NewWithDB(db).Remove(context.Background(), kv.KeyEventsCache); err != nil {
		t.Fatalf("removing an absent key should succeed, got %v", err)
	}
}

func TestRemove_DatabaseErrorIsUnavailable(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM kv_entries").
		WithArgs(kv.KeyEventsCache).
		WillReturnError(errors.New("read-only transaction"))

	err := NewWithDB(db).Remove(context.Background(), kv.KeyEventsCache)
	if !errors.Is(err, kv.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
