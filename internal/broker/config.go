package broker

import "time"

// Config holds the enumerated options of spec §6's configuration table
// that govern the broker's connect/reconnect/keep-alive behavior.
type Config struct {
	// ConnectTimeout bounds the SSH dial+handshake. Default 10s.
	ConnectTimeout time.Duration
	// MaxRetry is the reconnect budget per session. Default 3.
	MaxRetry int
	// ReconnectDelay is the base of the exponential reconnect backoff
	// (ReconnectDelay * 2^retryCount). Default 1s.
	ReconnectDelay time.Duration
	// KeepaliveInterval is the heartbeat period. Default 15s.
	KeepaliveInterval time.Duration
	// PingExpiry bounds how long an outstanding heartbeat ping is tracked
	// before being purged unanswered. Default 10s.
	PingExpiry time.Duration
	// ClientSlowWindow bounds how long the shell pump tolerates a client
	// write back-pressure stall before erroring the session. Default 5s.
	ClientSlowWindow time.Duration
}

// DefaultConfig matches spec §6's defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    10 * time.Second,
		MaxRetry:          3,
		ReconnectDelay:    1 * time.Second,
		KeepaliveInterval: 15 * time.Second,
		PingExpiry:        10 * time.Second,
		ClientSlowWindow:  5 * time.Second,
	}
}
