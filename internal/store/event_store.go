package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/vbonduro/medlens/internal/domain"
)

// EventStore journals session transitions for diagnostics.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Record(ctx context.Context, sessionID, kind, detail string) (*domain.Event, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO session_events (session_id, kind, detail) VALUES (?, ?, ?)
	`, sessionID, kind, detail)
	if err != nil {
		return nil, fmt.Errorf("failed to record event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *EventStore) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	ev := &domain.Event{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, kind, detail, created_at FROM session_events WHERE id = ?
	`, id).Scan(&ev.ID, &ev.SessionID, &ev.Kind, &ev.Detail, &ev.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return ev, nil
}

// ListBySession returns the session's events oldest first.
func (s *EventStore) ListBySession(ctx context.Context, sessionID string) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, kind, detail, created_at FROM session_events
		WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	events := make([]*domain.Event, 0)
	for rows.Next() {
		ev := &domain.Event{}
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

func (s *EventStore) DeleteBySession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM session_events WHERE session_id = ?
	`, sessionID); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	return nil
}
