package broker

import (
	"testing"
	"time"

	"github.com/relayforge/sshgateway/internal/protocol"
)

type fakeWriter struct {
	frames []struct {
		typ    protocol.Type
		header any
	}
}

func (f *fakeWriter) WriteFrame(typ protocol.Type, header any, payload []byte) error {
	f.frames = append(f.frames, struct {
		typ    protocol.Type
		header any
	}{typ, header})
	return nil
}

func TestAuthMethodPrefersKeyOverPassword(t *testing.T) {
	// A deliberately invalid PEM is enough to exercise the "key unusable"
	// path without needing a real keypair.
	_, err := authMethod(Descriptor{AuthType: AuthKey, PrivateKey: ""})
	if err != ErrKeyUnusable {
		t.Fatalf("authMethod(empty key) error = %v, want ErrKeyUnusable", err)
	}

	_, err = authMethod(Descriptor{AuthType: AuthKey, PrivateKey: "not a pem"})
	if err == nil {
		t.Fatal("authMethod(invalid pem) should fail")
	}

	m, err := authMethod(Descriptor{AuthType: AuthPassword, Password: "hunter2"})
	if err != nil {
		t.Fatalf("authMethod(password) error: %v", err)
	}
	if m == nil {
		t.Fatal("authMethod(password) returned nil method")
	}
}

func TestAuthMethodUnsupportedType(t *testing.T) {
	if _, err := authMethod(Descriptor{AuthType: "bogus"}); err == nil {
		t.Fatal("authMethod(bogus) should fail")
	}
}

func TestHandleHeartbeatReplyComputesLatency(t *testing.T) {
	w := &fakeWriter{}
	s := New("sess-1", "principal-1", Descriptor{}, DefaultConfig(), w)

	reqID := "req-1"
	s.pingMu.Lock()
	s.pending[reqID] = time.Now().Add(-50 * time.Millisecond)
	s.pingMu.Unlock()

	s.HandleHeartbeatReply(reqID, 10)

	if len(w.frames) != 1 {
		t.Fatalf("expected 1 frame emitted, got %d", len(w.frames))
	}
	hdr, ok := w.frames[0].header.(latencyHeader)
	if !ok {
		t.Fatalf("unexpected header type %T", w.frames[0].header)
	}
	if hdr.LocalLatency != 10 {
		t.Fatalf("LocalLatency = %d, want 10", hdr.LocalLatency)
	}
	if hdr.TotalLatency < 40 {
		t.Fatalf("TotalLatency = %d, want >= 40", hdr.TotalLatency)
	}
	if hdr.RemoteLatency != hdr.TotalLatency-hdr.LocalLatency {
		t.Fatalf("RemoteLatency = %d, want TotalLatency-LocalLatency", hdr.RemoteLatency)
	}
}

func TestHandleHeartbeatReplyUnknownRequestIDIsNoop(t *testing.T) {
	w := &fakeWriter{}
	s := New("sess-1", "principal-1", Descriptor{}, DefaultConfig(), w)

	s.HandleHeartbeatReply("never-sent", 0)

	if len(w.frames) != 0 {
		t.Fatalf("expected no frames emitted, got %d", len(w.frames))
	}
}

func TestStateStringAndTerminal(t *testing.T) {
	cases := []struct {
		s        State
		want     string
		terminal bool
	}{
		{StateConnecting, "connecting", false},
		{StateAuthenticating, "authenticating", false},
		{StateConnected, "connected", false},
		{StateReconnecting, "reconnecting", false},
		{StateErrored, "errored", true},
		{StateClosed, "closed", true},
	}
	for _, tc := range cases {
		if got := tc.s.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.s, got, tc.want)
		}
		if got := tc.s.terminal(); got != tc.terminal {
			t.Errorf("State(%d).terminal() = %v, want %v", tc.s, got, tc.terminal)
		}
	}
}

func TestCloseScrubsDescriptorAndIsIdempotent(t *testing.T) {
	w := &fakeWriter{}
	s := New("sess-1", "p1", Descriptor{Password: "hunter2"}, DefaultConfig(), w)

	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if s.descriptor.Password != "" {
		t.Fatal("descriptor secrets should be scrubbed after Close")
	}
	if s.State() != StateClosed {
		t.Fatalf("State() = %v, want Closed", s.State())
	}
	// Second Close must not panic (closing s.done twice).
	if err := s.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}

func TestCountersAccumulate(t *testing.T) {
	w := &fakeWriter{}
	s := New("sess-1", "p1", Descriptor{}, DefaultConfig(), w)

	s.AddBytesIn(10)
	s.AddBytesIn(5)
	s.AddBytesOut(100)

	in, out := s.Counters()
	if in != 15 || out != 100 {
		t.Fatalf("Counters() = (%d, %d), want (15, 100)", in, out)
	}
}
