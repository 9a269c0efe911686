package postgres

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agrivision/agriauth"
)

var columns = []string{
	"id", "email", "name", "password_hash", "role", "active", "email_verified", "mfa_enabled",
	"phone", "push_token", "external_ids", "version", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func sampleAccount() *agriauth.Account {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &agriauth.Account{
		ID:           "5f0c7c1e-8f43-4b7e-9f5a-0d7b1b2a9c11",
		Email:        "alice@example.com",
		Name:         "Alice",
		PasswordHash: "$2a$12$hash",
		Role:         agriauth.RoleStandard,
		Active:       true,
		Phone:        "+15550100",
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestMigrateAppliesSchema(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("create table if not exists accounts").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
}

func TestCreate(t *testing.T) {
	s, mock := newMockStore(t)
	a := sampleAccount()

	mock.ExpectExec("insert into accounts").
		WithArgs(a.ID, a.Email, a.Name, a.PasswordHash, "standard", true, false, false,
			sqlmock.AnyArg(), sqlmock.AnyArg(), []byte("{}"), int64(1), a.CreatedAt, a.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.Create(context.Background(), a); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestCreateUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into accounts").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"})

	err := s.Create(context.Background(), sampleAccount())
	if !errors.Is(err, agriauth.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestFindByEmail(t *testing.T) {
	s, mock := newMockStore(t)
	a := sampleAccount()

	mock.ExpectQuery("(?s)select .*from accounts\\s+where lower\\(email\\) = \\$1").
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			a.ID, a.Email, a.Name, a.PasswordHash, "researcher", true, true, true,
			"+15550100", nil, []byte(`{"legacy":"64f1c0ffee"}`), int64(4), a.CreatedAt, a.UpdatedAt,
		))

	got, err := s.FindByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if got.Role != agriauth.RoleResearcher || !got.MFAEnabled || got.Phone != "+15550100" || got.PushToken != "" {
		t.Fatalf("unexpected account: %+v", got)
	}
	if got.ExternalIDs["legacy"] != "64f1c0ffee" {
		t.Fatalf("external ids not decoded: %v", got.ExternalIDs)
	}
	if !got.EmailVerified || got.Version != 4 {
		t.Fatalf("verification or version not scanned: %+v", got)
	}
}

func TestFindByExternalID(t *testing.T) {
	s, mock := newMockStore(t)
	a := sampleAccount()

	mock.ExpectQuery("(?s)select .*from accounts\\s+where external_ids ->> \\$1 = \\$2").
		WithArgs("google", "g-100").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			a.ID, a.Email, a.Name, a.PasswordHash, "standard", true, true, false,
			nil, nil, []byte(`{"google":"g-100"}`), int64(2), a.CreatedAt, a.UpdatedAt,
		))

	got, err := s.FindByExternalID(context.Background(), agriauth.ProviderGoogle, "g-100")
	if err != nil {
		t.Fatalf("FindByExternalID: %v", err)
	}
	if got.ID != a.ID || got.ExternalIDs["google"] != "g-100" {
		t.Fatalf("unexpected account: %+v", got)
	}
}

func TestFindByIDNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("(?s)select .*from accounts\\s+where id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	if _, err := s.FindByID(context.Background(), "missing"); !errors.Is(err, agriauth.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	a := sampleAccount()
	a.Active = false

	mock.ExpectExec("update accounts").
		WithArgs(a.ID, a.Email, a.Name, a.PasswordHash, "standard", false, false, false,
			sqlmock.AnyArg(), sqlmock.AnyArg(), []byte("{}"), a.UpdatedAt, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Update(context.Background(), a); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if a.Version != 2 {
		t.Fatalf("expected version 2 after update, got %d", a.Version)
	}
}

func TestUpdateStaleVersionConflicts(t *testing.T) {
	s, mock := newMockStore(t)
	a := sampleAccount()

	mock.ExpectExec("update accounts").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs(a.ID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if err := s.Update(context.Background(), a); !errors.Is(err, agriauth.ErrAccountConflict) {
		t.Fatalf("expected ErrAccountConflict, got %v", err)
	}
	if a.Version != 1 {
		t.Fatalf("version must not move on conflict, got %d", a.Version)
	}
}

func TestUpdateMissingAccount(t *testing.T) {
	s, mock := newMockStore(t)
	a := sampleAccount()

	mock.ExpectExec("update accounts").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs(a.ID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if err := s.Update(context.Background(), a); !errors.Is(err, agriauth.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAuditSinkInserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	var logs bytes.Buffer
	sink := NewAuditSink(db, slog.New(slog.NewTextHandler(&logs, nil)))
	event := agriauth.AuditEvent{
		ID:        "01JNQ7X3ZK4T6Y8V0B2C4D6E8F",
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		EventType: "login_failure",
		IP:        "203.0.113.7",
		Reason:    "invalid_password",
		Metadata:  map[string]string{"risk_score": "20"},
	}

	mock.ExpectExec("insert into audit_events").
		WithArgs(event.ID, event.Timestamp, "login_failure", sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), false, sqlmock.AnyArg(), []byte(`{"risk_score":"20"}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into audit_events").WillReturnError(errors.New("connection refused"))

	sink.Emit(context.Background(), event)
	sink.Emit(context.Background(), event)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
	if !bytes.Contains(logs.Bytes(), []byte("audit event not persisted")) {
		t.Fatalf("expected failure to be logged, got %q", logs.String())
	}
}
