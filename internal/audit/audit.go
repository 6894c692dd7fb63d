package audit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/filipexyz/authpolicy/internal/domain"
)

// Sink receives committed audit entries (event bus, live feed).
type Sink interface {
	PublishAudit(ctx context.Context, entry domain.AuditEntry) error
}

// Logger fans committed audit entries out to slog (sync) and to sinks (async).
// Persistence happens in the store, atomically with the mutation; the Logger only
// distributes entries that are already durable.
type Logger struct {
	sinks  []Sink
	ch     chan domain.AuditEntry
	mu     sync.Mutex // guards closed + ch send atomically (prevents TOCTOU race)
	closed bool
	once   sync.Once
	done   chan struct{}
}

// New creates a new audit Logger. The buffer parameter controls the async channel size.
func New(buffer int, sinks ...Sink) *Logger {
	if buffer <= 0 {
		buffer = 256
	}
	l := &Logger{
		sinks: sinks,
		ch:    make(chan domain.AuditEntry, buffer),
		done:  make(chan struct{}),
	}
	go l.drain()
	return l
}

// Record logs an audit entry to slog and queues it for the sinks.
func (l *Logger) Record(e domain.AuditEntry) {
	attrs := []any{
		slog.String("id", e.ID),
		slog.String("action", string(e.Action)),
		slog.String("policy_id", e.PolicyID),
		slog.Int("version", e.Version),
		slog.String("actor", e.Metadata.Actor),
	}
	if e.FromStatus != "" {
		attrs = append(attrs, slog.String("from_status", string(e.FromStatus)))
	}
	attrs = append(attrs, slog.String("to_status", string(e.ToStatus)))
	if e.Metadata.IP != "" {
		attrs = append(attrs, slog.String("ip_address", e.Metadata.IP))
	}
	if e.Metadata.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", e.Metadata.RequestID))
	}
	if e.Metadata.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Metadata.Reason))
	}
	slog.Info("audit", attrs...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.ch <- e:
	default:
		slog.Warn("audit fan-out channel full, dropping entry", "action", e.Action, "policy_id", e.PolicyID)
	}
}

func (l *Logger) drain() {
	defer close(l.done)
	for e := range l.ch {
		for _, s := range l.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.PublishAudit(ctx, e); err != nil {
				slog.Error("audit publish failed", "error", err, "action", e.Action, "policy_id", e.PolicyID)
			}
			cancel()
		}
	}
}

// Close stops accepting entries and waits for queued ones to reach the sinks.
// Safe to call multiple times.
func (l *Logger) Close() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.ch)
		l.mu.Unlock()
	})
	<-l.done
}

type ctxKey string

const (
	ipKey        ctxKey = "audit_ip"
	requestIDKey ctxKey = "audit_request_id"
	userAgentKey ctxKey = "audit_user_agent"
)

// WithIP returns a context with the client IP address stored for audit metadata.
func WithIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey, ip)
}

// WithRequest stores the client IP, request id and user agent of r in ctx.
func WithRequest(ctx context.Context, r *http.Request, requestID string) context.Context {
	ctx = WithIP(ctx, IPFromRequest(r))
	if requestID != "" {
		ctx = context.WithValue(ctx, requestIDKey, requestID)
	}
	if ua := r.UserAgent(); ua != "" {
		ctx = context.WithValue(ctx, userAgentKey, ua)
	}
	return ctx
}

// Metadata builds audit metadata for actor from the request values stored in ctx.
func Metadata(ctx context.Context, actor, reason string) domain.AuditMetadata {
	m := domain.AuditMetadata{
		Actor:  actor,
		IP:     ipFromContext(ctx),
		Reason: reason,
	}
	m.RequestID, _ = ctx.Value(requestIDKey).(string)
	m.UserAgent, _ = ctx.Value(userAgentKey).(string)
	return m
}

// IPFromRequest extracts the client IP from an HTTP request.
// Uses X-Forwarded-For / X-Real-Ip headers if present, falls back to RemoteAddr.
// NOTE: These headers are informational only and can be spoofed by clients.
func IPFromRequest(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return ip
	}
	ip = r.Header.Get("X-Forwarded-For")
	if ip != "" {
		// X-Forwarded-For can be comma-separated; take the first (client) IP
		if idx := strings.IndexByte(ip, ','); idx != -1 {
			ip = strings.TrimSpace(ip[:idx])
		}
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ipKey).(string)
	return ip
}
