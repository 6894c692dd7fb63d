package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/filipexyz/authpolicy/internal/domain"
)

// AuditHandler receives audit entries read from the stream.
type AuditHandler func(entry domain.AuditEntry)

// ConsumeAudit delivers every new audit entry on the stream to handler until ctx is done.
// The consumer is ephemeral: each process instance sees every entry.
func ConsumeAudit(ctx context.Context, stream jetstream.Stream, handler AuditHandler) error {
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: SubjectPrefix + "audit.>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckNonePolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var entry domain.AuditEntry
		if err := json.Unmarshal(msg.Data(), &entry); err != nil {
			slog.Warn("skipping malformed audit message", "subject", msg.Subject(), "error", err)
			return
		}
		handler(entry)
	})
	if err != nil {
		return fmt.Errorf("consume audit stream: %w", err)
	}

	<-ctx.Done()
	cc.Stop()
	return nil
}
