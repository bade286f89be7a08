package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts an audit event into the consent_audit_events table.
func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO consent_audit_events (
			id, timestamp, visitor_id, action, category, decision, reason, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.New(),
		event.Timestamp,
		event.VisitorID,
		event.Action,
		event.Category,
		event.Decision,
		event.Reason,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByVisitor returns a visitor's audit trail ordered oldest first.
func (s *PostgresStore) ListByVisitor(ctx context.Context, visitorID string) ([]Event, error) {
	query := `
		SELECT timestamp, visitor_id, action, category, decision, reason, request_id
		FROM consent_audit_events
		WHERE visitor_id = $1
		ORDER BY timestamp ASC
	`
	rows, err := s.db.QueryContext(ctx, query, visitorID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Timestamp, &e.VisitorID, &e.Action, &e.Category, &e.Decision, &e.Reason, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// DeleteByVisitor removes all trail entries for a visitor (erasure flow).
func (s *PostgresStore) DeleteByVisitor(ctx context.Context, visitorID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM consent_audit_events WHERE visitor_id = $1`, visitorID)
	if err != nil {
		return fmt.Errorf("delete audit events: %w", err)
	}
	return nil
}
