// Package shellpump implements the shell pump (component F): the
// bidirectional byte relay between the client's framed SSH_DATA frames and
// the SSH shell channel, with resize propagation and back-pressure.
//
// Grounded on internal/terminal/terminal.go's LocalSession, which runs the
// same PTY↔WebSocket relay as two goroutines; this generalizes that shape
// to framed SSH_DATA messages with batching and back-pressure detection.
package shellpump

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/relayforge/sshgateway/internal/broker"
	"github.com/relayforge/sshgateway/internal/protocol"
	"github.com/relayforge/sshgateway/internal/telemetry"
)

// Config bounds the outbound batching window (spec §4.6: "up to a small
// window (≤16 KiB or ≤10 ms)").
type Config struct {
	BatchMaxBytes int
	BatchWindow   time.Duration
	ReadBufSize   int
}

func DefaultConfig() Config {
	return Config{
		BatchMaxBytes: 16 << 10,
		BatchWindow:   10 * time.Millisecond,
		ReadBufSize:   32 << 10,
	}
}

type dataHeader struct {
	SessionID string `json:"sessionId"`
}

// Pump relays bytes for one Session. It does not own the Session's
// lifecycle — Run returns when the shell channel closes or ctx is
// cancelled, and the caller decides whether that means reconnect or
// teardown.
type Pump struct {
	session *broker.Session
	writer  broker.FrameWriter
	cfg     Config
}

func New(session *broker.Session, writer broker.FrameWriter, cfg Config) *Pump {
	return &Pump{session: session, writer: writer, cfg: cfg}
}

// Run reads from the SSH shell channel and emits batched SSH_DATA frames
// until the channel closes, ctx is cancelled, or back-pressure persists
// past the session's configured ClientSlowWindow (in which case the
// session is failed with CLIENT_SLOW and Run returns that error).
func (p *Pump) Run(ctx context.Context) error {
	reader := p.session.ShellReader()
	if reader == nil {
		return errors.New("shellpump: session has no live shell channel")
	}

	buf := make([]byte, p.cfg.ReadBufSize)
	batch := make([]byte, 0, p.cfg.BatchMaxBytes)
	flushDeadline := time.NewTimer(p.cfg.BatchWindow)
	defer flushDeadline.Stop()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		payload := make([]byte, len(batch))
		copy(payload, batch)
		batch = batch[:0]

		if err := p.sendWithBackpressure(ctx, payload); err != nil {
			return err
		}
		p.session.AddBytesOut(int64(len(payload)))
		return nil
	}

	reads := make(chan readResult, 1)
	go pumpReads(reader, buf, reads)

	for {
		select {
		case <-ctx.Done():
			_ = flush()
			return ctx.Err()
		case <-flushDeadline.C:
			if err := flush(); err != nil {
				return err
			}
			flushDeadline.Reset(p.cfg.BatchWindow)
		case r := <-reads:
			batch = append(batch, r.data...)
			if r.err != nil {
				_ = flush()
				if r.err == io.EOF {
					return io.EOF
				}
				return r.err
			}
			if len(batch) >= p.cfg.BatchMaxBytes {
				if err := flush(); err != nil {
					return err
				}
			}
			go pumpReads(reader, buf, reads)
		}
	}
}

type readResult struct {
	data []byte
	err  error
}

// pumpReads performs one blocking Read and reports the result, so Run's
// select loop never blocks directly on the SSH channel and can still react
// to ctx cancellation and the flush timer.
//
// io.Reader permits a single Read to return n>0 and a non-nil error in the
// same call; both are carried on one readResult so Run sees the trailing
// bytes before it returns the error. Run never spawns another pumpReads
// once it sees a non-nil err, so out is sent to at most once per call and
// is never closed.
func pumpReads(r io.Reader, buf []byte, out chan<- readResult) {
	n, err := r.Read(buf)
	var data []byte
	if n > 0 {
		data = make([]byte, n)
		copy(data, buf[:n])
	}
	out <- readResult{data: data, err: err}
}

// sendWithBackpressure writes one SSH_DATA frame. If the writer blocks
// longer than the session's ClientSlowWindow, the session is failed with
// CLIENT_SLOW (spec §4.6: "if back-pressure persists beyond a bounded
// window, the session transitions to Errored with reason client-slow") —
// the shell-channel reader is allowed to keep blocking up to that point
// rather than dropping bytes.
func (p *Pump) sendWithBackpressure(ctx context.Context, payload []byte) error {
	done := make(chan error, 1)
	go func() {
		done <- p.writer.WriteFrame(protocol.TypeSSHData, dataHeader{SessionID: p.session.ID}, payload)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(p.session.ClientSlowWindow()):
		telemetry.FrameDropped(p.session.ID, byte(protocol.TypeSSHData))
		werr := protocol.Errorf(protocol.ErrClientSlowCode, p.session.ID, "", "client did not drain output within %s", p.session.ClientSlowWindow())
		_ = p.session.FailClientSlow(werr)
		return werr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleData writes an inbound SSH_DATA payload verbatim to the shell
// channel's stdin — no escaping or line buffering (spec §4.6).
func (p *Pump) HandleData(payload []byte) error {
	w := p.session.ShellWriter()
	if w == nil {
		return errors.New("shellpump: session has no live shell channel")
	}
	n, err := w.Write(payload)
	p.session.AddBytesIn(int64(n))
	return err
}

// HandleResize applies {cols, rows} to the shell channel's PTY.
func (p *Pump) HandleResize(cols, rows uint16) error {
	return p.session.Resize(rows, cols)
}
