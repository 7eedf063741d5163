package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stablevault/internal/event"
)

// EventLogWriter writes committed operation envelopes to Postgres using
// multi-row INSERT. ON CONFLICT (sequence) DO NOTHING keeps replayed writes
// idempotent.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is one row in vault_log.events.
type EventRow struct {
	Sequence  uint64
	EventID   string
	Kind      string
	Caller    string
	VaultID   uint64
	Tick      uint64
	Payload   []byte // JSON-encoded payload
	CreatedAt time.Time
}

// RowFromEnvelope flattens an envelope into its storage row.
func RowFromEnvelope(env *event.Envelope) EventRow {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		payload = []byte("{}")
	}
	return EventRow{
		Sequence:  env.Sequence,
		EventID:   env.EventID.String(),
		Kind:      env.Kind.String(),
		Caller:    string(env.Caller),
		VaultID:   env.VaultID,
		Tick:      env.Tick,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// execer covers both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// WriteEventBatch writes a batch of rows inside the given transaction.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO vault_log.events
		(sequence, event_id, kind, caller, vault_id, tick, payload, created_at)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*8)

	for i, e := range events {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			e.Sequence, e.EventID, e.Kind, e.Caller,
			e.VaultID, e.Tick, e.Payload, e.CreatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
