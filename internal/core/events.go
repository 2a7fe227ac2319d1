package core

import (
	"context"
	"time"
)

// Event kinds.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

// Event describes a committed change to one record.
type Event struct {
	Name      string // "<entity>.<action>", e.g. "visit.created"
	Entity    string
	Model     string // storage table
	RecordID  int64
	Data      any // the record's wire projection
	Timestamp time.Time
}

// EventName joins an entity and an action.
func EventName(entity, action string) string {
	return entity + "." + action
}

// EventEmitter receives events after their transaction commits. Emit must not
// block on delivery and its failures never reach the caller.
type EventEmitter interface {
	Emit(ctx context.Context, ev Event)
}

// NopEmitter discards events.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) {}

// WebhookEvents lists every event a subscription can be flagged for.
var WebhookEvents = []string{
	"customer.created", "customer.updated",
	"sale.created", "sale.updated",
	"delivery.created", "delivery.updated",
	"payment.created", "payment.updated",
	"visit.created", "visit.updated",
}

// IsWebhookEvent reports whether name is a known event.
func IsWebhookEvent(name string) bool {
	for _, e := range WebhookEvents {
		if e == name {
			return true
		}
	}
	return false
}
