package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"newsstand/internal/common"
)

// Operation is the kind of change carried by an event.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"

	// OpAny matches every operation when registering a route.
	OpAny Operation = "*"
)

// TableFilter selects which changes a subscription receives.
type TableFilter struct {
	Schema string
	Table  string
	Event  Operation // OpAny subscribes to all operations
	Filter string    // optional server-side predicate, e.g. "category=eq.politics"
}

// RawEvent is the loosely-typed payload delivered by the change stream.
// It is narrowed into a ChangeEvent immediately at the boundary and never
// propagated past the router.
type RawEvent struct {
	Schema    string          `json:"schema"`
	Table     string          `json:"table"`
	Type      string          `json:"type"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record"`
	CommitAt  time.Time       `json:"commit_timestamp"`
}

// ChangeEvent is a validated change notification. Events are immutable once
// constructed; handlers must not modify them.
type ChangeEvent struct {
	Table      string
	Op         Operation
	ID         string // stable identity of the changed record, the dedup key
	Record     json.RawMessage
	Old        json.RawMessage
	ReceivedAt time.Time
}

// Channel is a live upstream subscription. Close tears down the underlying
// transport and stops all callbacks.
type Channel interface {
	Close() error
}

// Source opens logical change-stream channels. Implementations live in
// infra/realtime. Events and transport errors are delivered via the callbacks;
// after Close returns no further callbacks fire.
type Source interface {
	Open(ctx context.Context, topic string, filters []TableFilter, onEvent func(RawEvent), onError func(error)) (Channel, error)
}

// Narrow validates a raw event into a typed ChangeEvent. It returns a
// PayloadError for events that cannot be dispatched safely: unknown
// operations, missing table names, or records without a stable id.
func Narrow(raw RawEvent) (ChangeEvent, error) {
	if raw.Table == "" {
		return ChangeEvent{}, common.NewPayloadError("missing table name")
	}

	op := Operation(raw.Type)
	switch op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return ChangeEvent{}, common.NewPayloadError(fmt.Sprintf("unknown operation %q", raw.Type))
	}

	// Deletes carry the identity in old_record; inserts and updates in record.
	src := raw.Record
	if op == OpDelete {
		src = raw.OldRecord
	}

	id, err := recordID(src)
	if err != nil {
		return ChangeEvent{}, err
	}

	return ChangeEvent{
		Table:      raw.Table,
		Op:         op,
		ID:         id,
		Record:     raw.Record,
		Old:        raw.OldRecord,
		ReceivedAt: time.Now(),
	}, nil
}

// recordID extracts the stable identity field from a record payload.
// Accepts string and numeric ids since PostgREST serializes both.
func recordID(record json.RawMessage) (string, error) {
	if len(record) == 0 {
		return "", common.NewPayloadError("missing record")
	}

	var probe struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(record, &probe); err != nil {
		return "", common.NewPayloadError("record is not an object: " + err.Error())
	}

	switch id := probe.ID.(type) {
	case string:
		if id == "" {
			return "", common.NewPayloadError("empty record id")
		}
		return id, nil
	case float64:
		return fmt.Sprintf("%.0f", id), nil
	default:
		return "", common.NewPayloadError("record has no id field")
	}
}
