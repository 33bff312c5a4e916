package audit

import (
	"context"
	"log/slog"
)

const (
	// EventTransferCreated records a completed two-leg transfer.
	EventTransferCreated = "bank_transfer_created"
	// EventTransferCancelled records a reversed transfer.
	EventTransferCancelled = "bank_transfer_cancelled"
)

// Event describes an activity entry emitted after a committed ledger change.
type Event struct {
	Type        string
	ActorID     string
	RelatedID   string
	Description string
}

// Sink receives activity events. Delivery is best-effort: a failed or lost
// event must never affect the outcome of the committed operation it describes.
type Sink interface {
	Log(ctx context.Context, event Event) error
}

// LoggerSink writes activity events to the structured logger. The wider
// practice-management system consumes these downstream.
type LoggerSink struct {
	logger *slog.Logger
}

// NewLoggerSink constructs a logging activity sink.
func NewLoggerSink(logger *slog.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

// Log writes the event to the structured logger.
func (s *LoggerSink) Log(_ context.Context, event Event) error {
	if s == nil || s.logger == nil {
		return nil
	}
	s.logger.Info("activity",
		"type", event.Type,
		"actor_id", event.ActorID,
		"related_id", event.RelatedID,
		"description", event.Description,
	)
	return nil
}
