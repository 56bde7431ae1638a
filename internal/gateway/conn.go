package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relayforge/sshgateway/internal/broker"
	"github.com/relayforge/sshgateway/internal/protocol"
	"github.com/relayforge/sshgateway/internal/reconnect"
	"github.com/relayforge/sshgateway/internal/sftpengine"
	"github.com/relayforge/sshgateway/internal/shellpump"
)

// handshakeHeader is the HANDSHAKE frame's header (spec §4.4).
type handshakeHeader struct {
	SessionID    string `json:"sessionId"`
	ConnectionID string `json:"connectionId"`
}

type resizeHeader struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

type commandHeader struct {
	Command string `json:"command"`
}

type heartbeatInHeader struct {
	RequestID       string `json:"requestId,omitempty"`
	ClientLatencyMs *int64 `json:"clientLatencyMs,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
}

type heartbeatEchoHeader struct {
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
}

// Stream is one upgraded client connection bound to exactly one session
// (spec §4.4's per-stream loop). It is the broker.FrameWriter every
// downstream component (broker.Session, shellpump.Pump, sftpengine.Engine)
// writes through — a single goroutine owns the WebSocket send side so
// concurrent writers never interleave frame bytes.
type Stream struct {
	ws  *websocket.Conn
	cfg Config

	pending   *PendingConnections
	brokerCfg broker.Config
	sftpCfg   sftpengine.Config

	writeCh   chan []byte
	closeOnce sync.Once
	done      chan struct{}

	session    *broker.Session
	shellPump  *shellpump.Pump
	sftpEngine *sftpengine.Engine

	// reconnectWorker, when set by the Server, is given this stream's
	// session at handshake and has it taken back at Close so a queued
	// background task can still reach it by ID.
	reconnectWorker *reconnect.Worker
}

// NewStream upgrades r/w into a WebSocket and returns the (not yet
// running) Stream. Call Serve to run its loops.
func NewStream(w http.ResponseWriter, r *http.Request, cfg Config, pending *PendingConnections, brokerCfg broker.Config, sftpCfg sftpengine.Config) (*Stream, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  32 << 10,
		WriteBufferSize: 32 << 10,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: upgrade: %w", err)
	}
	return &Stream{
		ws:        conn,
		cfg:       cfg,
		pending:   pending,
		brokerCfg: brokerCfg,
		sftpCfg:   sftpCfg,
		writeCh:   make(chan []byte, cfg.WriteQueueDepth),
		done:      make(chan struct{}),
	}, nil
}

// WriteFrame implements broker.FrameWriter. It never blocks the caller
// beyond the channel send — the actual socket write happens on the single
// writer goroutine started by Serve.
func (s *Stream) WriteFrame(typ protocol.Type, header any, payload []byte) error {
	frame, err := protocol.Encode(typ, header, payload)
	if err != nil {
		return err
	}
	select {
	case s.writeCh <- frame:
		return nil
	case <-s.done:
		return fmt.Errorf("gateway: stream closed")
	}
}

// Serve runs the stream until the client disconnects, the session is
// closed, or ctx is cancelled. It owns exactly one reader goroutine, one
// writer goroutine, and the HANDSHAKE state machine described in spec §4.4.
func (s *Stream) Serve(ctx context.Context, principalID string, authenticateSession func(connectionID string) (broker.Descriptor, error)) error {
	defer s.Close()

	go s.writeLoop()

	if err := s.awaitHandshake(ctx, principalID, authenticateSession); err != nil {
		return err
	}

	return s.readLoop(ctx)
}

func (s *Stream) writeLoop() {
	for {
		select {
		case frame, ok := <-s.writeCh:
			if !ok {
				return
			}
			if err := s.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// awaitHandshake blocks until the client's HANDSHAKE frame arrives (or
// HandshakeTimeout elapses), then resolves the descriptor and drives the
// SSH connect path.
func (s *Stream) awaitHandshake(ctx context.Context, principalID string, authenticateSession func(connectionID string) (broker.Descriptor, error)) error {
	_ = s.ws.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer s.ws.SetReadDeadline(time.Time{})

	_, data, err := s.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("gateway: awaiting handshake: %w", err)
	}
	f, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	if f.Type != protocol.TypeHandshake {
		return fmt.Errorf("gateway: expected HANDSHAKE, got %#x", byte(f.Type))
	}

	var h handshakeHeader
	if err := protocol.DecodeHeader(f, &h); err != nil {
		return err
	}

	var descriptor broker.Descriptor
	if authenticateSession != nil {
		descriptor, err = authenticateSession(h.ConnectionID)
	} else {
		var ok bool
		descriptor, ok = s.pending.Take(h.ConnectionID)
		if !ok {
			err = fmt.Errorf("connectionId %s unknown or expired", h.ConnectionID)
		}
	}
	if err != nil {
		werr := protocol.Errorf(protocol.ErrInvalidSessionIDCode, h.SessionID, "", "%v", err)
		_ = s.WriteFrame(protocol.TypeError, protocol.ErrorHeader{
			ErrorCode: werr.Code, ErrorMessage: werr.Message, SessionID: werr.SessionID,
		}, nil)
		return werr
	}

	s.session = broker.New(h.SessionID, principalID, descriptor, s.brokerCfg, s)
	s.sftpEngine = sftpengine.New(s.session, s, s.sftpCfg)

	if err := s.session.Connect(ctx); err != nil {
		return err
	}
	if s.reconnectWorker != nil {
		s.reconnectWorker.RegisterSession(s.session.ID, s.session)
	}

	s.shellPump = shellpump.New(s.session, s, shellpump.DefaultConfig())
	go s.runShellPump(ctx)

	return nil
}

// runShellPump drives the shell relay for the session's lifetime,
// transparently reconnecting through broker.Session.HandleTransportLoss
// when the SSH side drops (spec §4.5 step 4).
func (s *Stream) runShellPump(ctx context.Context) {
	for {
		err := s.shellPump.Run(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		if s.session.State().String() == "closed" || s.session.State().String() == "errored" {
			return
		}
		s.session.HandleTransportLoss(ctx, err)
		if s.session.State().String() != "connected" {
			return
		}
		s.shellPump = shellpump.New(s.session, s, shellpump.DefaultConfig())
	}
}

// readLoop is the per-stream loop from spec §4.4, active after the session
// is Connected.
func (s *Stream) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if s.session != nil {
				s.session.Close()
			}
			return err
		}

		f, err := protocol.Decode(data)
		if err != nil {
			_ = s.WriteFrame(protocol.TypeError, protocol.ErrorHeader{
				ErrorCode:    protocol.ErrBadFrameCode,
				ErrorMessage: err.Error(),
			}, nil)
			continue
		}

		if err := s.dispatch(ctx, f); err != nil {
			return err
		}
		if f.Type == protocol.TypeDisconnect {
			return nil
		}
	}
}

func (s *Stream) dispatch(ctx context.Context, f protocol.Frame) error {
	switch f.Type {
	case protocol.TypeSSHData:
		return s.shellPump.HandleData(f.Payload)

	case protocol.TypeSSHResize:
		var h resizeHeader
		if err := protocol.DecodeHeader(f, &h); err != nil {
			return nil
		}
		return s.shellPump.HandleResize(uint16(h.Cols), uint16(h.Rows))

	case protocol.TypeSSHCommand:
		var h commandHeader
		if err := protocol.DecodeHeader(f, &h); err != nil {
			return nil
		}
		return s.shellPump.HandleData([]byte(h.Command + "\n"))

	case protocol.TypeHeartbeat:
		return s.handleHeartbeat(f)

	case protocol.TypeDisconnect:
		if s.session != nil {
			s.session.Close()
		}
		return nil

	default:
		if f.Type >= protocol.TypeSFTPInit && f.Type <= protocol.TypeSFTPCancel {
			return s.sftpEngine.HandleFrame(ctx, f)
		}
		return nil
	}
}

func (s *Stream) handleHeartbeat(f protocol.Frame) error {
	var h heartbeatInHeader
	if err := json.Unmarshal(f.Header, &h); err != nil {
		return nil
	}
	if h.RequestID != "" && h.ClientLatencyMs != nil {
		s.session.HandleHeartbeatReply(h.RequestID, *h.ClientLatencyMs)
		return nil
	}
	// Client-initiated ping: reply with the gateway's own monotonic clock
	// reading, not an echo of the client's timestamp (spec §4.4).
	return s.WriteFrame(protocol.TypeHeartbeat, heartbeatEchoHeader{
		SessionID: s.session.ID,
		Timestamp: time.Now().UnixMilli(),
	}, nil)
}

// Close tears down the stream's writer goroutine and underlying socket.
// Safe to call multiple times.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.sftpEngine != nil {
			_ = s.sftpEngine.Close()
		}
		if s.reconnectWorker != nil && s.session != nil {
			s.reconnectWorker.UnregisterSession(s.session.ID)
		}
		_ = s.ws.Close()
	})
	return nil
}
