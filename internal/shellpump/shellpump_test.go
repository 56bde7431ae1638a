package shellpump_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/relayforge/sshgateway/internal/broker"
	"github.com/relayforge/sshgateway/internal/localshell"
	"github.com/relayforge/sshgateway/internal/protocol"
	"github.com/relayforge/sshgateway/internal/shellpump"
)

type capturingWriter struct {
	mu      chan struct{}
	payload strings.Builder
}

func newCapturingWriter() *capturingWriter {
	return &capturingWriter{mu: make(chan struct{}, 1024)}
}

func (w *capturingWriter) WriteFrame(typ protocol.Type, header any, payload []byte) error {
	if typ == protocol.TypeSSHData {
		w.payload.Write(payload)
		select {
		case w.mu <- struct{}{}:
		default:
		}
	}
	return nil
}

// TestShellEchoRoundTrip covers spec §8 scenario 1: handshake, send
// SSH_DATA{"echo hi\n"}, observe output containing "hi\r\n" within 2s.
func TestShellEchoRoundTrip(t *testing.T) {
	sh, err := localshell.Start("")
	if err != nil {
		t.Skipf("localshell.Start unavailable in this environment: %v", err)
	}
	defer sh.Close()

	w := newCapturingWriter()
	session := broker.NewConnected("sess-1", "principal-1", broker.DefaultConfig(), w, sh.Stdin(), sh.Stdout(), sh)
	pump := shellpump.New(session, w, shellpump.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pump.Run(ctx)

	if err := pump.HandleData([]byte("echo hi\n")); err != nil {
		t.Fatalf("HandleData error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-w.mu:
			if strings.Contains(w.payload.String(), "hi\r\n") {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for echo; got %q", w.payload.String())
		}
	}
}

// TestResizePropagation covers spec §8 scenario 2.
func TestResizePropagation(t *testing.T) {
	sh, err := localshell.Start("")
	if err != nil {
		t.Skipf("localshell.Start unavailable in this environment: %v", err)
	}
	defer sh.Close()

	w := newCapturingWriter()
	session := broker.NewConnected("sess-1", "principal-1", broker.DefaultConfig(), w, sh.Stdin(), sh.Stdout(), sh)
	pump := shellpump.New(session, w, shellpump.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pump.Run(ctx)

	if err := pump.HandleResize(120, 40); err != nil {
		t.Fatalf("HandleResize error: %v", err)
	}
	if err := pump.HandleData([]byte("stty size\n")); err != nil {
		t.Fatalf("HandleData error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-w.mu:
			if strings.Contains(w.payload.String(), "40 120") {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for stty size output; got %q", w.payload.String())
		}
	}
}
