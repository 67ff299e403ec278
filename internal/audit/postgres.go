package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PGSink appends audit events to the audit_events table. Details are stored
// as a JSON document; the table has no update or delete path.
type PGSink struct {
	db *sql.DB
}

func NewPGSink(db *sql.DB) (*PGSink, error) {
	if db == nil {
		return nil, errors.New("audit: database handle is required")
	}
	return &PGSink{db: db}, nil
}

func (s *PGSink) Append(ctx context.Context, ev Event) error {
	details := []byte("{}")
	if len(ev.Details) > 0 {
		data, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = data
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_events (id, event_type, actor_id, subject_id, occurred_at, details)
		values ($1, $2, $3, $4, $5, $6)
	`, ev.ID, ev.Type, nullable(ev.ActorID), nullable(ev.SubjectID), ev.OccurredAt, details)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
