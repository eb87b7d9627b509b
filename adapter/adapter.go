// Package adapter defines the event-bus mirror boundary.
//
// Adapters copy pipeline status and order events to downstream systems
// alongside the hub relay. A mirror failure never affects the relay path.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
)

// Event types.
const (
	EventTypeStatus = "status"
	EventTypeOrder  = "order"
)

// Event is the envelope published for every mirrored payload.
// Payload is the exact JSON sent on the hub topic.
type Event struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	DeviceID      string          `json:"device_id"`
	StoreID       string          `json:"store_id"`
	Timestamp     string          `json:"timestamp"` // RFC 3339
	Payload       json.RawMessage `json:"payload"`
}

// Adapter publishes events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *Event) error

	// Close releases adapter resources.
	Close() error
}

// Fanout publishes each event to every adapter it holds.
type Fanout []Adapter

// Publish attempts every adapter and joins the failures.
func (f Fanout) Publish(ctx context.Context, event *Event) error {
	var errs []error
	for _, a := range f {
		if err := a.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every adapter and joins the failures.
func (f Fanout) Close() error {
	var errs []error
	for _, a := range f {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Adapter = Fanout(nil)
