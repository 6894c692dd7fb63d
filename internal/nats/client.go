package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	StreamName    = "AUTHPOLICY_EVENTS"
	SubjectPrefix = "authpolicy."
)

// Client wraps NATS connection and JetStream.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
}

// Connect establishes a connection to NATS and initializes JetStream.
func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("authpolicyd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return &Client{
		conn: nc,
		js:   js,
	}, nil
}

// EnsureStreams creates or updates the policy event stream.
func (c *Client) EnsureStreams(ctx context.Context) error {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "auth policy lifecycle events",
		Subjects:    []string{SubjectPrefix + ">"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    1 << 30, // 1GB
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
		Duplicates:  2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create events stream: %w", err)
	}
	c.stream = stream
	slog.Info("JetStream stream ready", "name", StreamName)
	return nil
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Stream returns the policy event stream.
func (c *Client) Stream() jetstream.Stream {
	return c.stream
}

// Close drains and closes the NATS connection.
func (c *Client) Close() {
	c.conn.Drain()
}

// IsConnected returns true if connected to NATS.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}
