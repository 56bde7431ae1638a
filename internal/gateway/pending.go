package gateway

import (
	"crypto/rand"
	"encoding/base32"
	"sync"
	"time"

	"github.com/relayforge/sshgateway/internal/broker"
)

type pendingEntry struct {
	descriptor broker.Descriptor
	createdAt  time.Time
}

// PendingConnections is the short-lived {connectionId → descriptor} map
// spec §4.2 calls for: the HTTP admission layer resolves and decrypts a
// connection descriptor, stashes it here, and hands the caller back an
// opaque connectionId to embed in the stream-upgrade URL instead of raw
// credentials. The HANDSHAKE frame consumes (and removes) the entry.
type PendingConnections struct {
	mu      sync.Mutex
	entries map[string]pendingEntry
	ttl     time.Duration
}

func NewPendingConnections(ttl time.Duration) *PendingConnections {
	return &PendingConnections{entries: make(map[string]pendingEntry), ttl: ttl}
}

// Put registers a descriptor and returns its connectionId.
func (p *PendingConnections) Put(descriptor broker.Descriptor) string {
	id := randomID()
	p.mu.Lock()
	p.entries[id] = pendingEntry{descriptor: descriptor, createdAt: time.Now()}
	p.mu.Unlock()
	return id
}

// Take consumes and removes the entry for connectionId. Returns false if
// the id is unknown or has outlived its TTL.
func (p *PendingConnections) Take(connectionID string) (broker.Descriptor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[connectionID]
	if !ok {
		return broker.Descriptor{}, false
	}
	delete(p.entries, connectionID)
	if time.Since(e.createdAt) > p.ttl {
		return broker.Descriptor{}, false
	}
	return e.descriptor, true
}

// Sweep evicts entries that outlived their TTL without ever being claimed,
// so an abandoned stream-upgrade doesn't leak decrypted credentials
// indefinitely. Intended to run on a timer from the owning server.
func (p *PendingConnections) Sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for id, e := range p.entries {
		if now.Sub(e.createdAt) > p.ttl {
			e.descriptor.Scrub()
			delete(p.entries, id)
		}
	}
}

func randomID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
}
