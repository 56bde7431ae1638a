package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/relayforge/sshgateway/internal/broker"
	"github.com/relayforge/sshgateway/internal/sftpengine"
	"github.com/relayforge/sshgateway/internal/tokens"
)

func newTestServer() *Server {
	cfg := DefaultConfig()
	cfg.ConnectRateLimit = rate.Limit(2)
	cfg.ConnectBurst = 2
	return NewServer(cfg, tokens.New([]byte("test-signing-key")), NewPendingConnections(cfg.PendingConnectionTTL), broker.DefaultConfig(), sftpengine.DefaultConfig())
}

func TestAuthenticateAcceptsAuthorizationHeader(t *testing.T) {
	srv := newTestServer()
	token, err := srv.Tokens.Issue("principal-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/ssh", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	principalID, ok := srv.authenticate(r)
	if !ok || principalID != "principal-1" {
		t.Fatalf("authenticate() = (%q, %v), want (principal-1, true)", principalID, ok)
	}
}

func TestAuthenticateAcceptsQueryToken(t *testing.T) {
	srv := newTestServer()
	token, err := srv.Tokens.Issue("principal-2")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/ssh?token="+token, nil)

	principalID, ok := srv.authenticate(r)
	if !ok || principalID != "principal-2" {
		t.Fatalf("authenticate() = (%q, %v), want (principal-2, true)", principalID, ok)
	}
}

func TestAuthenticateRejectsMissingToken(t *testing.T) {
	srv := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/ssh", nil)

	if _, ok := srv.authenticate(r); ok {
		t.Fatal("authenticate should reject a request with no bearer token")
	}
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	srv := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/ssh?token=garbage", nil)

	if _, ok := srv.authenticate(r); ok {
		t.Fatal("authenticate should reject an unsignable/garbage token")
	}
}

func TestAllowRateLimitsPerRemoteIP(t *testing.T) {
	srv := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/ssh", nil)
	r.RemoteAddr = "203.0.113.9:54321"

	if !srv.allow(r) || !srv.allow(r) {
		t.Fatal("first ConnectBurst requests should be allowed")
	}
	if srv.allow(r) {
		t.Fatal("request beyond the configured burst should be rejected")
	}
}

func TestAllowTracksDistinctIPsIndependently(t *testing.T) {
	srv := newTestServer()
	a := httptest.NewRequest(http.MethodGet, "/ssh", nil)
	a.RemoteAddr = "203.0.113.1:1"
	b := httptest.NewRequest(http.MethodGet, "/ssh", nil)
	b.RemoteAddr = "203.0.113.2:1"

	if !srv.allow(a) || !srv.allow(a) {
		t.Fatal("ip a should get its own burst")
	}
	if !srv.allow(b) {
		t.Fatal("ip b should not be penalized by ip a's usage")
	}
}

func TestRemoteIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ssh", nil)
	r.RemoteAddr = "10.0.0.1:9999"
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")

	if got := remoteIP(r); got != "198.51.100.7" {
		t.Fatalf("remoteIP() = %q, want 198.51.100.7", got)
	}
}

func TestRemoteIPFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ssh", nil)
	r.RemoteAddr = "192.0.2.5:4444"

	if got := remoteIP(r); got != "192.0.2.5" {
		t.Fatalf("remoteIP() = %q, want 192.0.2.5", got)
	}
}

func TestSweepLoopStopsOnContextCancel(t *testing.T) {
	srv := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.SweepLoop(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SweepLoop did not return after context cancellation")
	}
}
