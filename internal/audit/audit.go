// Package audit records workflow events and optionally mirrors them
// to Kafka for downstream analytics.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lexflow/lexflow/internal/config"
	"github.com/lexflow/lexflow/internal/store"
)

// Event types recorded in the workflow trail.
const (
	EventStatusChanged  = "status_changed"
	EventAgentHandoff   = "agent_handoff"
	EventMeetingBooked  = "meeting_booked"
	EventDocumentSent   = "document_sent"
	EventCasePaused     = "case_paused"
	EventCaseResumed    = "case_resumed"
	EventGreetingQueued = "greeting_queued"
)

// Trail appends workflow events to the store and mirrors them to
// Kafka when brokers are configured. The store write is authoritative;
// the mirror is best effort.
type Trail struct {
	store  *store.Store
	writer *kafka.Writer
	logger *slog.Logger
}

// New builds a Trail. With no brokers configured events stay local.
func New(st *store.Store, cfg config.AuditConfig, logger *slog.Logger) *Trail {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Trail{store: st, logger: logger}
	if cfg.KafkaBrokers != "" {
		topic := cfg.KafkaTopic
		if topic == "" {
			topic = "lexflow.workflow_events"
		}
		t.writer = &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(cfg.KafkaBrokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 100 * time.Millisecond,
			Async:        true,
		}
	}
	return t
}

// Record appends the event. Local persistence failures are returned;
// mirror failures are only logged.
func (t *Trail) Record(ctx context.Context, e *store.WorkflowEvent) error {
	if err := t.store.AddWorkflowEvent(ctx, e); err != nil {
		return err
	}
	if t.writer == nil {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		t.logger.Warn("Workflow event not mirrored", "event", e.EventType, "error", err)
		return nil
	}
	err = t.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.CaseID),
		Value: payload,
	})
	if err != nil {
		t.logger.Warn("Kafka mirror failed", "event", e.EventType, "error", err)
	}
	return nil
}

// Close flushes the Kafka writer.
func (t *Trail) Close() error {
	if t.writer == nil {
		return nil
	}
	return t.writer.Close()
}
