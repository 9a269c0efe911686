// Package postgres implements [agriauth.AccountStore] on PostgreSQL through
// database/sql and the pgx driver, plus an append-only audit sink.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/agrivision/agriauth"
)

const pgErrUniqueViolation = "23505"

//go:embed schema.sql
var schema string

// Store persists accounts in the accounts table.
type Store struct {
	db *sql.DB
}

var _ agriauth.AccountStore = (*Store)(nil)

// Open connects with the pgx driver and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const accountColumns = `id, email, name, password_hash, role, active, email_verified, mfa_enabled, phone, push_token, external_ids, version, created_at, updated_at`

func (s *Store) Create(ctx context.Context, account *agriauth.Account) error {
	externalIDs, err := encodeExternalIDs(account.ExternalIDs)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		insert into accounts (`+accountColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		account.ID,
		account.Email,
		account.Name,
		account.PasswordHash,
		string(account.Role),
		account.Active,
		account.EmailVerified,
		account.MFAEnabled,
		nullIfEmpty(account.Phone),
		nullIfEmpty(account.PushToken),
		externalIDs,
		account.Version,
		account.CreatedAt.UTC(),
		account.UpdatedAt.UTC(),
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return agriauth.ErrAccountExists
		}
		return err
	}
	return nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*agriauth.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from accounts
		where lower(email) = $1
	`, email)
	return scanAccount(row)
}

func (s *Store) FindByID(ctx context.Context, id string) (*agriauth.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from accounts
		where id = $1
	`, id)
	return scanAccount(row)
}

func (s *Store) FindByExternalID(ctx context.Context, provider agriauth.Provider, subject string) (*agriauth.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from accounts
		where external_ids ->> $1 = $2
	`, string(provider), subject)
	return scanAccount(row)
}

// Update writes account when its Version still matches the stored row and
// bumps the version in the same statement. A miss is resolved into
// ErrAccountNotFound or ErrAccountConflict after one existence check.
func (s *Store) Update(ctx context.Context, account *agriauth.Account) error {
	externalIDs, err := encodeExternalIDs(account.ExternalIDs)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		update accounts
		set email = $2, name = $3, password_hash = $4, role = $5, active = $6,
		    email_verified = $7, mfa_enabled = $8, phone = $9, push_token = $10,
		    external_ids = $11, updated_at = $12, version = version + 1
		where id = $1 and version = $13
	`,
		account.ID,
		account.Email,
		account.Name,
		account.PasswordHash,
		string(account.Role),
		account.Active,
		account.EmailVerified,
		account.MFAEnabled,
		nullIfEmpty(account.Phone),
		nullIfEmpty(account.PushToken),
		externalIDs,
		account.UpdatedAt.UTC(),
		account.Version,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return agriauth.ErrAccountExists
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		account.Version++
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from accounts where id = $1)`, account.ID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return agriauth.ErrAccountConflict
	}
	return agriauth.ErrAccountNotFound
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*agriauth.Account, error) {
	var (
		account     agriauth.Account
		role        string
		phone       sql.NullString
		pushToken   sql.NullString
		externalIDs []byte
	)
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.Name,
		&account.PasswordHash,
		&role,
		&account.Active,
		&account.EmailVerified,
		&account.MFAEnabled,
		&phone,
		&pushToken,
		&externalIDs,
		&account.Version,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, agriauth.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	account.Role = agriauth.Role(role)
	account.Phone = phone.String
	account.PushToken = pushToken.String
	if len(externalIDs) > 0 {
		if err := json.Unmarshal(externalIDs, &account.ExternalIDs); err != nil {
			return nil, fmt.Errorf("decode external ids: %w", err)
		}
		if len(account.ExternalIDs) == 0 {
			account.ExternalIDs = nil
		}
	}
	return &account, nil
}

func encodeExternalIDs(ids map[string]string) ([]byte, error) {
	if len(ids) == 0 {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encode external ids: %w", err)
	}
	return raw, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
