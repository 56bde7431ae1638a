// Package telemetry is the gateway's structured per-session/per-frame event
// log (component I): the stream and broker layers have no database handle,
// so unlike internal/audit's PocketBase-backed principal actions, these
// events go to zerolog only.
//
// Grounded on internal/server/server.go and cmd/server/main.go's global
// zerolog.Logger usage, which is the only place the teacher's codebase
// reaches for a structured logger.
package telemetry

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Configure sets the global zerolog level and output, mirroring
// cmd/server/main.go's bootstrap (ParseLevel with an Info fallback, a
// console writer for local development).
func Configure(levelName string, pretty bool) {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// SessionConnected logs a successful SSH dial (spec §4.5's session.connect
// observability point).
func SessionConnected(sessionID, principalID, host string, port int) {
	log.Info().
		Str("sessionId", sessionID).
		Str("principalId", principalID).
		Str("host", host).
		Int("port", port).
		Msg("session connected")
}

// SessionReconnected logs a transport-loss recovery (spec §4.5's
// session.reconnect).
func SessionReconnected(sessionID string, cause error, attempt int) {
	log.Warn().
		Str("sessionId", sessionID).
		Err(cause).
		Int("attempt", attempt).
		Msg("session reconnecting")
}

// SessionClosed logs terminal session teardown, successful or not.
func SessionClosed(sessionID string, cause error) {
	ev := log.Info()
	if cause != nil {
		ev = log.Warn().Err(cause)
	}
	ev.Str("sessionId", sessionID).Msg("session closed")
}

// SFTPTransfer logs a completed upload/download/folder-download (spec
// §4.6's per-transfer observability point). op is e.g. "upload",
// "download", "downloadFolder".
func SFTPTransfer(sessionID, op, path string, bytes int64, duration time.Duration, err error) {
	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Str("sessionId", sessionID).
		Str("op", op).
		Str("path", path).
		Int64("bytes", bytes).
		Dur("duration", duration).
		Msg("sftp transfer")
}

// FrameDropped logs a frame the dispatch loop couldn't deliver (back-
// pressure or a closed write channel), at debug level since it's expected
// under CLIENT_SLOW and not itself an error worth paging on.
func FrameDropped(sessionID string, frameType byte) {
	log.Debug().
		Str("sessionId", sessionID).
		Uint8("frameType", frameType).
		Msg("frame dropped")
}
