package gateway

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/relayforge/sshgateway/internal/broker"
	"github.com/relayforge/sshgateway/internal/reconnect"
	"github.com/relayforge/sshgateway/internal/sftpengine"
	"github.com/relayforge/sshgateway/internal/tokens"
)

// Resolver resolves a consumed connectionId into the descriptor the
// HANDSHAKE frame's session should dial. Implemented by the HTTP admission
// layer (component H), which is the only thing allowed to mint entries in
// Pending.
type Resolver interface {
	Resolve(connectionID string) (broker.Descriptor, bool)
}

// Server is the /ssh and /monitor HTTP handler: it upgrades, rate-limits,
// and bearer-authenticates incoming connections, then hands each one off to
// a Stream. Grounded on internal/tunnel/server.go's accept loop, translated
// from a raw TCP listener to an http.Handler pair since this gateway's
// transport is WebSocket rather than the reverse-SSH tunnel's bare TCP.
type Server struct {
	Config    Config
	Tokens    *tokens.Cache
	Pending   *PendingConnections
	BrokerCfg broker.Config
	SFTPCfg   sftpengine.Config

	// Reconnect is optional: when set, each stream registers its session
	// with it at handshake so the /api/gw/sftp/estimate refresh job and a
	// future requeue-under-load policy can reach a live session by ID. A
	// nil Reconnect leaves reconnects entirely on the session's own
	// goroutine, as they are today.
	Reconnect *reconnect.Worker

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

func NewServer(cfg Config, tokenCache *tokens.Cache, pending *PendingConnections, brokerCfg broker.Config, sftpCfg sftpengine.Config) *Server {
	return &Server{
		Config:    cfg,
		Tokens:    tokenCache,
		Pending:   pending,
		BrokerCfg: brokerCfg,
		SFTPCfg:   sftpCfg,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// ServeSSH handles /ssh: the interactive shell + SFTP multiplexed stream.
func (srv *Server) ServeSSH(w http.ResponseWriter, r *http.Request) {
	srv.serve(w, r)
}

// ServeMonitor handles /monitor: the resource-metrics push stream (spec
// §4.9). It reuses the same admission path; the frame dispatch loop treats
// it identically except no SFTP/shell traffic is expected on it.
func (srv *Server) ServeMonitor(w http.ResponseWriter, r *http.Request) {
	srv.serve(w, r)
}

func (srv *Server) serve(w http.ResponseWriter, r *http.Request) {
	if !srv.allow(r) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	principalID, ok := srv.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	stream, err := NewStream(w, r, srv.Config, srv.Pending, srv.BrokerCfg, srv.SFTPCfg)
	if err != nil {
		return
	}
	stream.reconnectWorker = srv.Reconnect

	ctx := r.Context()
	_ = stream.Serve(ctx, principalID, func(connectionID string) (broker.Descriptor, error) {
		descriptor, ok := srv.Pending.Take(connectionID)
		if !ok {
			return broker.Descriptor{}, errUnknownConnection
		}
		return descriptor, nil
	})
}

var errUnknownConnection = &connectionError{"connectionId unknown or expired"}

type connectionError struct{ msg string }

func (e *connectionError) Error() string { return e.msg }

// authenticate validates the bearer token carried by the Authorization
// header, falling back to the "token" query parameter since browser
// WebSocket clients cannot set arbitrary headers on the upgrade request.
func (srv *Server) authenticate(r *http.Request) (principalID string, ok bool) {
	raw := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); auth != "" {
		raw = strings.TrimPrefix(auth, "Bearer ")
	}
	if raw == "" {
		return "", false
	}
	result := srv.Tokens.Verify(raw)
	if !result.Valid {
		return "", false
	}
	return result.PrincipalID, true
}

// allow applies the per-remote-IP connect-rate gate (spec §4.4, grounded on
// internal/tunnel/server.go's defaultRateLimit/limiter.Allow() pattern).
func (srv *Server) allow(r *http.Request) bool {
	ip := remoteIP(r)

	srv.limitersMu.Lock()
	lim, ok := srv.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(srv.Config.ConnectRateLimit, srv.Config.ConnectBurst)
		srv.limiters[ip] = lim
	}
	srv.limitersMu.Unlock()

	return lim.Allow()
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SweepLoop runs Pending.Sweep on an interval until ctx is cancelled.
// Intended to be started once at process bootstrap.
func (srv *Server) SweepLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			srv.Pending.Sweep()
		}
	}
}
