package nats

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// EmbeddedConfig configures the in-process NATS server.
type EmbeddedConfig struct {
	StoreDir string // base dir for JetStream data
	Host     string // bind address (default "127.0.0.1")
	Port     int    // client port (default 4222, -1 for random)
}

// EmbeddedServer wraps an in-process NATS server.
type EmbeddedServer struct {
	server *natsserver.Server
}

// StartEmbedded starts a NATS server in-process.
func StartEmbedded(cfg EmbeddedConfig) (*EmbeddedServer, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 4222
	}

	opts := &natsserver.Options{
		ServerName: "authpolicyd",
		Host:       cfg.Host,
		Port:       cfg.Port,
		JetStream:  true,
		StoreDir:   filepath.Join(cfg.StoreDir, "jetstream"),
		MaxPayload: 1 << 20, // 1MB
		NoSigs:     true,
		NoLog:      true,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to become ready")
	}

	slog.Info("embedded NATS server started", "url", srv.ClientURL())

	return &EmbeddedServer{server: srv}, nil
}

// ClientURL returns the URL clients should connect to.
func (e *EmbeddedServer) ClientURL() string {
	return e.server.ClientURL()
}

// Shutdown gracefully stops the embedded server.
func (e *EmbeddedServer) Shutdown() {
	if e.server != nil {
		e.server.Shutdown()
		e.server.WaitForShutdown()
		slog.Info("embedded NATS server stopped")
	}
}
