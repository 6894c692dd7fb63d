package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/filipexyz/authpolicy/internal/domain"
)

// AuditSubject maps an audit action to its subject:
// "policy.activated" -> "authpolicy.audit.policy.activated".
func AuditSubject(action domain.AuditAction) string {
	return SubjectPrefix + "audit." + string(action)
}

// Publisher publishes audit entries to JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishAudit sends an audit entry to JetStream.
func (p *Publisher) PublishAudit(ctx context.Context, entry domain.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	ack, err := p.js.Publish(ctx, AuditSubject(entry.Action), data,
		jetstream.WithMsgID(entry.ID), // Deduplication
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	slog.Debug("audit entry published",
		"audit_id", entry.ID,
		"policy_id", entry.PolicyID,
		"action", entry.Action,
		"stream", ack.Stream,
		"seq", ack.Sequence,
	)
	return nil
}
