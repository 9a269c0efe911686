package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/agrivision/agriauth"
)

// AuditSink appends audit events to the audit_events table. Rows are only
// ever inserted.
type AuditSink struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ agriauth.AuditSink = (*AuditSink)(nil)

// NewAuditSink writes through db. Insert failures are logged on logger.
func NewAuditSink(db *sql.DB, logger *slog.Logger) *AuditSink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &AuditSink{db: db, logger: logger}
}

// Emit inserts event. A duplicate id is ignored so redelivery is harmless.
func (s *AuditSink) Emit(ctx context.Context, event agriauth.AuditEvent) {
	metadata := []byte("{}")
	if len(event.Metadata) > 0 {
		if raw, err := json.Marshal(event.Metadata); err == nil {
			metadata = raw
		}
	}

	_, err := s.db.ExecContext(ctx, `
		insert into audit_events
			(id, occurred_at, event_type, account_id, actor, ip, user_agent, request_id, success, reason, metadata)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		on conflict (id) do nothing
	`,
		event.ID,
		event.Timestamp.UTC(),
		event.EventType,
		nullIfEmpty(event.AccountID),
		nullIfEmpty(event.Actor),
		nullIfEmpty(event.IP),
		nullIfEmpty(event.UserAgent),
		nullIfEmpty(event.RequestID),
		event.Success,
		nullIfEmpty(event.Reason),
		metadata,
	)
	if err != nil {
		s.logger.WarnContext(ctx, "audit event not persisted",
			slog.String("audit_id", event.ID),
			slog.String("event_type", event.EventType),
			slog.String("error", err.Error()),
		)
	}
}
