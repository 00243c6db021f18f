package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fastvote/internal/domain"
)

const (
	ActionCreated   = "action.created"
	VoteCast        = "vote.cast"
	ActionExecuted  = "action.executed"
	ActionCancelled = "action.cancelled"
)

// Types lists every notification the engine emits.
var Types = []string{ActionCreated, VoteCast, ActionExecuted, ActionCancelled}

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an event row inside tx, so a notification exists exactly when
// the mutation it describes commits.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := domain.Stamp(w.Now())
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
