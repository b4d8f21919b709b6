package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Entry is one row of the append-only event log.
type Entry struct {
	Type       string
	OrderID    int64
	EntityKind string
	EntityID   string
	ActorID    int64
	Payload    EventPayload
}

// Append writes e inside tx so the log commits with the state change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	payload := e.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	var orderID any
	if e.OrderID > 0 {
		orderID = e.OrderID
	}
	var entityID any
	if e.EntityID != "" {
		entityID = e.EntityID
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,order_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), e.Type, orderID, e.EntityKind, entityID, e.ActorID, string(data))
	return err
}
