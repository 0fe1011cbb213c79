package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Event is one security-relevant decision. Reasons go in Error and Metadata
// and never reach the caller that triggered the event.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	SubjectID string            `json:"subject_id,omitempty"`
	DeviceID  string            `json:"device_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Route     string            `json:"route,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// SinkFunc adapts a function to Sink. A nil SinkFunc discards events.
type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) Emit(ctx context.Context, event Event) {
	if f != nil {
		f(ctx, event)
	}
}

// ChannelSink hands events to a consumer goroutine. Emit waits for room until
// ctx ends, so a slow consumer backs up into the dispatcher queue.
type ChannelSink chan Event

// NewChannelSink returns a ChannelSink holding up to buffer events.
func NewChannelSink(buffer int) ChannelSink {
	return make(ChannelSink, max(buffer, 1))
}

func (s ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s <- event:
	case <-ctx.Done():
	}
}

// Events is the receive side for the consumer.
func (s ChannelSink) Events() <-chan Event {
	return s
}

// ZerologSink writes each event as one structured log line. Failed decisions
// log at warn level, successful ones at info.
type ZerologSink struct {
	logger zerolog.Logger
}

func NewZerologSink(logger zerolog.Logger) *ZerologSink {
	return &ZerologSink{logger: logger.With().Str("component", "audit").Logger()}
}

func (s *ZerologSink) Emit(_ context.Context, event Event) {
	if s == nil {
		return
	}
	ev := s.logger.Info()
	if !event.Success {
		ev = s.logger.Warn()
	}
	ev = ev.Time("at", event.Timestamp).
		Str("event", event.EventType).
		Bool("success", event.Success)
	if event.SubjectID != "" {
		ev = ev.Str("subject_id", event.SubjectID)
	}
	if event.DeviceID != "" {
		ev = ev.Str("device_id", event.DeviceID)
	}
	if event.IP != "" {
		ev = ev.Str("client_ip", event.IP)
	}
	if event.Route != "" {
		ev = ev.Str("route", event.Route)
	}
	if event.Error != "" {
		ev = ev.Str("reason", event.Error)
	}
	if len(event.Metadata) > 0 {
		ev = ev.Interface("metadata", event.Metadata)
	}
	ev.Msg("audit")
}
