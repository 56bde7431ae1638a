// Package gateway implements the bidirectional stream gateway (component
// D): WebSocket upgrade and bearer-token admission on /ssh and /monitor,
// the per-stream frame dispatch loop, and the single serialized writer
// every outbound frame goes through.
//
// Grounded on internal/tunnel/server.go's accept loop (golang.org/x/time/rate
// connection-rate gate, per-connection handshake timeout) and
// internal/terminal/terminal.go's WS↔PTY bridge (one reader goroutine, one
// writer goroutine, a channel between them).
package gateway

import (
	"time"

	"golang.org/x/time/rate"
)

// Config holds the gateway's tunables.
type Config struct {
	// ConnectRateLimit bounds new stream upgrades per second per remote IP
	// (grounded on internal/tunnel/server.go's defaultRateLimit).
	ConnectRateLimit rate.Limit
	ConnectBurst     int

	// HandshakeTimeout bounds how long an upgraded stream has to send its
	// HANDSHAKE frame before the gateway closes it.
	HandshakeTimeout time.Duration

	// PendingConnectionTTL is how long a connectionId handed out by the
	// HTTP admission layer stays claimable by a HANDSHAKE frame (spec §4.2
	// "Pending Connection"; purpose: avoid full credentials in the
	// stream-upgrade URL).
	PendingConnectionTTL time.Duration

	// WriteQueueDepth bounds the single writer's outbound frame buffer.
	WriteQueueDepth int
}

func DefaultConfig() Config {
	return Config{
		ConnectRateLimit:     10,
		ConnectBurst:         20,
		HandshakeTimeout:     15 * time.Second,
		PendingConnectionTTL: 30 * time.Minute,
		WriteQueueDepth:      256,
	}
}
