package nats

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/filipexyz/authpolicy/internal/domain"
)

func startEmbedded(t *testing.T) *EmbeddedServer {
	t.Helper()
	srv, err := StartEmbedded(EmbeddedConfig{
		StoreDir: t.TempDir(),
		Port:     -1,
	})
	if err != nil {
		t.Fatalf("start embedded: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestEmbeddedBasic(t *testing.T) {
	srv := startEmbedded(t)

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	received := make(chan *nats.Msg, 1)
	sub, err := nc.Subscribe("test.hello", func(msg *nats.Msg) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	nc.Flush()

	if err := nc.Publish("test.hello", []byte("world")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	nc.Flush()

	select {
	case msg := <-received:
		if string(msg.Data) != "world" {
			t.Errorf("expected 'world', got %q", string(msg.Data))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPublishAndConsumeAudit(t *testing.T) {
	srv := startEmbedded(t)

	client, err := Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.EnsureStreams(ctx); err != nil {
		t.Fatalf("ensure streams: %v", err)
	}

	got := make(chan domain.AuditEntry, 4)
	consumeCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- ConsumeAudit(consumeCtx, client.Stream(), func(e domain.AuditEntry) { got <- e })
	}()
	// Give the ephemeral consumer a moment to attach before publishing.
	time.Sleep(200 * time.Millisecond)

	pub := NewPublisher(client.JetStream())
	entry := domain.AuditEntry{
		ID:       "audit-1",
		PolicyID: "p1",
		Action:   domain.ActionActivated,
		ToStatus: domain.StatusActive,
		Version:  1,
		Metadata: domain.AuditMetadata{Actor: "test"},
	}
	if err := pub.PublishAudit(ctx, entry); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// Same id again is deduplicated by JetStream.
	if err := pub.PublishAudit(ctx, entry); err != nil {
		t.Fatalf("publish duplicate: %v", err)
	}

	select {
	case e := <-got:
		if e.ID != "audit-1" || e.Action != domain.ActionActivated {
			t.Fatalf("unexpected entry %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for audit entry")
	}

	info, err := client.Stream().Info(ctx)
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}
	if info.State.Msgs != 1 {
		t.Fatalf("expected 1 stored message after dedup, got %d", info.State.Msgs)
	}

	stop()
	if err := <-done; err != nil {
		t.Fatalf("consume: %v", err)
	}
}

func TestAuditSubject(t *testing.T) {
	if s := AuditSubject(domain.ActionArchived); s != "authpolicy.audit.policy.archived" {
		t.Fatalf("unexpected subject %q", s)
	}
}
