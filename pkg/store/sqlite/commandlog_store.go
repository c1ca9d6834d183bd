package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/eventsourcing"
)

// CommandLogStore is the audit trail for dispatched commands (§3.4, §6.1),
// satisfying eventsourcing.CommandLogStore.
type CommandLogStore struct {
	db *sql.DB
}

// NewCommandLogStore wraps an existing EventStore's database handle.
func NewCommandLogStore(s *EventStore) *CommandLogStore {
	return &CommandLogStore{db: s.db}
}

// RecordPending implements eventsourcing.CommandLogStore.
func (c *CommandLogStore) RecordPending(ctx context.Context, rec *eventsourcing.CommandRecord) error {
	payloadJSON, err := marshalJSON(rec.Payload)
	if err != nil {
		return fmt.Errorf("%w: encode command payload: %v", eventsourcing.ErrSerialization, err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO command_log (id, command_type, payload, issued_by, issued_at, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CommandType, payloadJSON, rec.IssuedBy, rec.IssuedAt.Format(time.RFC3339Nano), eventsourcing.CommandStatusPending)
	if err != nil {
		return fmt.Errorf("%w: record pending command: %v", eventsourcing.ErrStoreUnavailable, err)
	}
	return nil
}

// RecordOutcome implements eventsourcing.CommandLogStore.
func (c *CommandLogStore) RecordOutcome(ctx context.Context, id string, status eventsourcing.CommandStatus, result map[string]any, errMsg string) error {
	resultJSON, err := marshalJSON(result)
	if err != nil {
		return fmt.Errorf("%w: encode command result: %v", eventsourcing.ErrSerialization, err)
	}
	_, err = c.db.ExecContext(ctx,
		`UPDATE command_log SET status = ?, result = ?, error_message = ? WHERE id = ?`,
		status, resultJSON, errMsg, id)
	if err != nil {
		return fmt.Errorf("%w: record command outcome: %v", eventsourcing.ErrStoreUnavailable, err)
	}
	return nil
}

// Get implements eventsourcing.CommandLogStore.
func (c *CommandLogStore) Get(ctx context.Context, id string) (*eventsourcing.CommandRecord, error) {
	var rec eventsourcing.CommandRecord
	var payloadJSON, resultJSON sql.NullString
	var issuedAt string
	var issuedBy, errMsg sql.NullString
	err := c.db.QueryRowContext(ctx, `
		SELECT id, command_type, payload, issued_by, issued_at, status, result, error_message
		FROM command_log WHERE id = ?`, id).
		Scan(&rec.ID, &rec.CommandType, &payloadJSON, &issuedBy, &issuedAt, &rec.Status, &resultJSON, &errMsg)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sqlite: command record %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get command record: %v", eventsourcing.ErrStoreUnavailable, err)
	}

	rec.IssuedBy = issuedBy.String
	rec.ErrorMessage = errMsg.String
	ts, err := time.Parse(time.RFC3339Nano, issuedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: parse issued_at: %v", eventsourcing.ErrSerialization, err)
	}
	rec.IssuedAt = ts

	rec.Payload = map[string]any{}
	if payloadJSON.Valid {
		if err := unmarshalJSON(payloadJSON.String, &rec.Payload); err != nil {
			return nil, fmt.Errorf("%w: decode command payload: %v", eventsourcing.ErrSerialization, err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		if err := unmarshalJSON(resultJSON.String, &rec.Result); err != nil {
			return nil, fmt.Errorf("%w: decode command result: %v", eventsourcing.ErrSerialization, err)
		}
	}
	return &rec, nil
}
