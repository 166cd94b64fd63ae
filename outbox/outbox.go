// Package outbox implements the dual-write event pattern: event rows are
// appended inside the same transaction as the state change they
// describe, and a separate drainer (outside this module's scope) reads
// and acknowledges them at-least-once.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/creditledger/id"
)

// Event is a single pending notification of a state change.
type Event struct {
	ID             id.OutboxEventID `json:"id"`
	EventType      string           `json:"event_type"`
	AggregateType  string           `json:"aggregate_type"`
	AggregateID    string           `json:"aggregate_id"`
	CorrelationID  string           `json:"correlation_id,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	Payload        map[string]any   `json:"payload"`
	CreatedAt      time.Time        `json:"created_at"`
	DeliveredAt    *time.Time       `json:"delivered_at,omitempty"`
}

// New constructs an Event ready to append.
func New(eventType, aggregateType, aggregateID, correlationID string, payload map[string]any) *Event {
	return &Event{
		ID:            id.NewOutboxEventID(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		CorrelationID: correlationID,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}
}

// Appender is the subset of storage capability Append needs, satisfied
// structurally by store.Tx.
type Appender interface {
	InsertOutboxEvent(ctx context.Context, evt *Event) error
}

// Append inserts evt using the caller's transaction handle. Per the
// outbox contract, a failure here MUST NOT fail the caller's
// transaction — it is logged at Warn and swallowed, since the state
// change it describes must still commit.
func Append(ctx context.Context, tx Appender, logger *slog.Logger, evt *Event) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := tx.InsertOutboxEvent(ctx, evt); err != nil {
		logger.Warn("outbox: failed to append event, state change proceeds regardless",
			"event_type", evt.EventType,
			"aggregate_type", evt.AggregateType,
			"aggregate_id", evt.AggregateID,
			"error", err)
	}
}

// Reader is the subset of storage capability Drain needs, satisfied
// structurally by store.Store.
type Reader interface {
	ListUndeliveredOutboxEvents(ctx context.Context, limit int) ([]*Event, error)
	MarkOutboxEventDelivered(ctx context.Context, eventID id.OutboxEventID, deliveredAt time.Time) error
}

// Drain reads up to batchSize undelivered events and invokes handler on
// each in order, marking delivered on success. It stops at the first
// handler error and returns the count of events successfully delivered
// this call. Delivery is at-least-once: a crash between handler success
// and MarkOutboxEventDelivered will redeliver that event on the next
// Drain call.
func Drain(ctx context.Context, store Reader, handler func(context.Context, *Event) error, batchSize int) (int, error) {
	events, err := store.ListUndeliveredOutboxEvents(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, evt := range events {
		if err := handler(ctx, evt); err != nil {
			return delivered, err
		}
		if err := store.MarkOutboxEventDelivered(ctx, evt.ID, time.Now().UTC()); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}
