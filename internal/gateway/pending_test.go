package gateway

import (
	"testing"
	"time"

	"github.com/relayforge/sshgateway/internal/broker"
)

func TestPendingConnectionsPutTake(t *testing.T) {
	p := NewPendingConnections(time.Minute)
	d := broker.Descriptor{Host: "10.0.0.5", Port: 22, Username: "deploy", Password: "hunter2"}

	id := p.Put(d)
	if id == "" {
		t.Fatal("Put returned empty connectionId")
	}

	got, ok := p.Take(id)
	if !ok {
		t.Fatal("Take reported unknown id for a fresh entry")
	}
	if got.Host != d.Host || got.Username != d.Username || got.Password != d.Password {
		t.Fatalf("Take returned %+v, want %+v", got, d)
	}
}

func TestPendingConnectionsTakeIsOneShot(t *testing.T) {
	p := NewPendingConnections(time.Minute)
	id := p.Put(broker.Descriptor{Host: "h"})

	if _, ok := p.Take(id); !ok {
		t.Fatal("first Take should succeed")
	}
	if _, ok := p.Take(id); ok {
		t.Fatal("second Take should report the id as already consumed")
	}
}

func TestPendingConnectionsTakeUnknownID(t *testing.T) {
	p := NewPendingConnections(time.Minute)
	if _, ok := p.Take("does-not-exist"); ok {
		t.Fatal("Take should report false for an unknown id")
	}
}

func TestPendingConnectionsTakeExpired(t *testing.T) {
	p := NewPendingConnections(1 * time.Millisecond)
	id := p.Put(broker.Descriptor{Host: "h"})

	time.Sleep(5 * time.Millisecond)

	if _, ok := p.Take(id); ok {
		t.Fatal("Take should reject an entry past its TTL")
	}
}

func TestPendingConnectionsSweepEvictsExpiredAndScrubs(t *testing.T) {
	p := NewPendingConnections(1 * time.Millisecond)
	d := broker.Descriptor{Host: "h", Password: "secret", PrivateKey: "key", Passphrase: "pass"}
	id := p.Put(d)

	time.Sleep(5 * time.Millisecond)
	p.Sweep()

	p.mu.Lock()
	_, stillPresent := p.entries[id]
	p.mu.Unlock()
	if stillPresent {
		t.Fatal("Sweep should have evicted the expired entry")
	}
}

func TestPendingConnectionsSweepLeavesFreshEntries(t *testing.T) {
	p := NewPendingConnections(time.Minute)
	id := p.Put(broker.Descriptor{Host: "h"})

	p.Sweep()

	if _, ok := p.Take(id); !ok {
		t.Fatal("Sweep should not evict an entry still within its TTL")
	}
}

func TestRandomIDIsUnpredictableAndNonEmpty(t *testing.T) {
	a := randomID()
	b := randomID()
	if a == "" || b == "" {
		t.Fatal("randomID returned an empty string")
	}
	if a == b {
		t.Fatal("randomID produced the same value twice in a row")
	}
}
