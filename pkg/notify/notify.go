// Package notify delivers operator notifications about failover passes.
package notify

import (
	"context"
	"errors"
	"time"
)

// Level is the severity of a message.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event classifies a message for machine consumers.
type Event string

const (
	EventFailoverCompleted Event = "failover_completed"
	EventHealthAlert       Event = "health_alert"
	EventTelemetryTimeout  Event = "telemetry_timeout"
	EventInvalidHeight     Event = "invalid_height"
	EventNoHealthyBackup   Event = "no_healthy_backup"
	EventMultipleActive    Event = "multiple_active"
	EventRunFailed         Event = "run_failed"
)

// Message is one notification. Text is human readable and does not carry the
// network prefix; String adds it.
type Message struct {
	Network string    `json:"network"`
	Level   Level     `json:"level"`
	Event   Event     `json:"event"`
	Text    string    `json:"text"`
	Node    string    `json:"node,omitempty"`
	Time    time.Time `json:"time"`
}

func (m Message) String() string {
	if m.Network == "" {
		return m.Text
	}
	return m.Network + ": " + m.Text
}

// Sink delivers messages somewhere.
type Sink interface {
	Notify(ctx context.Context, msg Message) error
}

// Multi fans a message out to every sink. All sinks are tried; failures are joined.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
