package audit

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/filipexyz/authpolicy/internal/domain"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	err     error
}

func (s *recordingSink) PublishAudit(_ context.Context, e domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestWithIP(t *testing.T) {
	ctx := context.Background()
	if ip := ipFromContext(ctx); ip != "" {
		t.Fatalf("expected empty ip, got %q", ip)
	}

	ctx = WithIP(ctx, "192.168.1.1")
	if ip := ipFromContext(ctx); ip != "192.168.1.1" {
		t.Fatalf("expected 192.168.1.1, got %q", ip)
	}
}

func TestRecordReachesEverySink(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("bus down")}
	l := New(16, a, b)

	l.Record(domain.AuditEntry{ID: "a1", PolicyID: "p1", Action: domain.ActionCreated})
	l.Record(domain.AuditEntry{ID: "a2", PolicyID: "p1", Action: domain.ActionActivated})
	l.Close()

	if a.count() != 2 {
		t.Fatalf("sink a got %d entries, want 2", a.count())
	}
	// A failing sink does not stop delivery.
	if b.count() != 2 {
		t.Fatalf("sink b got %d entries, want 2", b.count())
	}
	if a.entries[0].ID != "a1" || a.entries[1].ID != "a2" {
		t.Fatalf("entries out of order: %+v", a.entries)
	}
}

func TestRecordChannelFull(t *testing.T) {
	l := &Logger{ch: make(chan domain.AuditEntry, 1)}

	l.Record(domain.AuditEntry{ID: "first"})
	// This should not block; it drops the entry.
	l.Record(domain.AuditEntry{ID: "second"})

	select {
	case e := <-l.ch:
		if e.ID != "first" {
			t.Fatalf("expected first, got %q", e.ID)
		}
	default:
		t.Fatal("expected entry")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	l := New(16)
	l.Close()
	l.Close()
}

func TestRecordAfterClose(t *testing.T) {
	l := New(16)
	l.Close()
	l.Record(domain.AuditEntry{ID: "late"})
}

func TestConcurrentRecordAndClose(t *testing.T) {
	for i := 0; i < 100; i++ {
		l := New(4, &recordingSink{})
		var wg sync.WaitGroup

		for j := 0; j < 10; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for k := 0; k < 50; k++ {
					l.Record(domain.AuditEntry{ID: "spam"})
				}
			}()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Close()
		}()

		wg.Wait()
	}
}

func TestMetadataFromRequest(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/v1/policies", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	r.Header.Set("User-Agent", "policyctl/1.0")

	ctx := WithRequest(context.Background(), r, "req-1")
	m := Metadata(ctx, "api:ops", "rollout")

	want := domain.AuditMetadata{
		Actor:     "api:ops",
		IP:        "203.0.113.9",
		RequestID: "req-1",
		UserAgent: "policyctl/1.0",
		Reason:    "rollout",
	}
	if m != want {
		t.Fatalf("got %+v, want %+v", m, want)
	}
}

func TestIPFromRequest(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		remote   string
		expected string
	}{
		{"real ip", map[string]string{"X-Real-Ip": "10.0.0.1"}, "1.2.3.4:5", "10.0.0.1"},
		{"forwarded", map[string]string{"X-Forwarded-For": "10.0.0.2"}, "1.2.3.4:5", "10.0.0.2"},
		{"remote addr", nil, "1.2.3.4:5", "1.2.3.4"},
		{"remote without port", nil, "1.2.3.4", "1.2.3.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := IPFromRequest(r); got != tt.expected {
				t.Fatalf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}
