package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Event kinds written by the frame loop besides the tracker's own event types.
const (
	KindPress          = "press"
	KindRelease        = "release"
	KindInjectionError = "injection_error"
)

// Event is one journaled occurrence within a session.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	UserID    int       `json:"user_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventRepository provides access to session events.
type EventRepository struct {
	db *sql.DB
}

// Events returns the event repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Create inserts a single event and sets its ID.
func (r *EventRepository) Create(e *Event) error {
	return r.CreateBatch([]*Event{e})
}

// CreateBatch inserts events in one transaction.
func (r *EventRepository) CreateBatch(events []*Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO session_events (session_id, kind, user_id, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, e := range events {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		result, err := stmt.Exec(e.SessionID, e.Kind, e.UserID, e.Detail, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert %s event: %w", e.Kind, err)
		}
		if e.ID, err = result.LastInsertId(); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListBySession retrieves a session's events in insertion order.
func (r *EventRepository) ListBySession(sessionID string) ([]*Event, error) {
	rows, err := r.db.Query(
		`SELECT id, session_id, kind, user_id, detail, created_at
		 FROM session_events WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.UserID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}
