// Package tokens implements the token & session cache (component B): signed
// bearer issuance, an in-memory TTL cache mapping token→principal and
// principal→token-set, and logout-all fencing.
//
// The cache is an owned component with an explicit lifetime (constructed at
// startup and passed into the gateway), not a package-level global — per
// spec §9's "global singletons → owned components" redesign note.
package tokens

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is TOKEN_TTL_SEC's default (spec §6 configuration table).
const DefaultTTL = 48 * time.Hour

// entrySweepTTL bounds how long a revoked entry is kept around purely so
// that in-flight requests racing the revoke still observe remote-logout
// instead of a bare "not found" — spec §4.2's "short TTL" on logout marks.
const entrySweepTTL = 5 * time.Minute

// Claims is the payload of the signed bearer: {principalId, iat, exp}.
type Claims struct {
	PrincipalID string `json:"principalId"`
	jwt.RegisteredClaims
}

// VerifyResult is verifyToken(s)'s boolean-with-reason outcome.
type VerifyResult struct {
	Valid       bool
	PrincipalID string
	Reason      string // "", "signature", "expired", "not-found", "remote-logout", "principal-mismatch"
}

func (r VerifyResult) IsRemoteLogout() bool { return r.Reason == "remote-logout" }

type entry struct {
	principalID string
	valid       bool
	remoteLogout bool
	expiresAt   time.Time
}

// Cache is the Token & Session Cache. Zero value is not usable — use New.
type Cache struct {
	mu       sync.Mutex
	tokens   map[string]*entry    // token -> entry
	sessions map[string][]string  // principalId -> tokens issued to it

	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// Option configures New.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option { return func(c *Cache) { c.ttl = ttl } }

// WithClock overrides time.Now, for deterministic tests.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// New builds a Cache. signingKey signs/verifies the JWT bearer and must be
// stable across the process lifetime (rotating it invalidates every
// outstanding token).
func New(signingKey []byte, opts ...Option) *Cache {
	c := &Cache{
		tokens:     make(map[string]*entry),
		sessions:   make(map[string][]string),
		signingKey: signingKey,
		ttl:        DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issue mints a signed bearer for principalID, records it in the cache, and
// appends it to the principal's session set.
func (c *Cache) Issue(principalID string) (string, error) {
	now := c.now()
	exp := now.Add(c.ttl)

	claims := Claims{
		PrincipalID: principalID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        randomID(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", fmt.Errorf("tokens: sign: %w", err)
	}

	c.mu.Lock()
	c.tokens[signed] = &entry{principalID: principalID, valid: true, expiresAt: exp}
	c.sessions[principalID] = append(c.sessions[principalID], signed)
	c.mu.Unlock()

	return signed, nil
}

// Verify is verifyToken(s): verifies signature and expiry, consults the
// cache, and cross-checks stored.principalId == claim.principalId.
func (c *Cache) Verify(s string) VerifyResult {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(s, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return VerifyResult{Reason: "signature"}
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(c.now()) {
		return VerifyResult{Reason: "expired"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.tokens[s]
	if !ok {
		return VerifyResult{Reason: "not-found"}
	}
	if e.principalID != claims.PrincipalID {
		return VerifyResult{Reason: "principal-mismatch"}
	}
	if !e.valid {
		if e.remoteLogout {
			return VerifyResult{Reason: "remote-logout"}
		}
		return VerifyResult{Reason: "revoked"}
	}

	return VerifyResult{Valid: true, PrincipalID: e.principalID}
}

// LogoutAll marks every token under principalID as invalid+remoteLogout,
// with a bounded retention (entrySweepTTL) so in-flight requests still see
// the remote-logout reason instead of a bare cache miss, then clears the
// session set — subsequent Issue calls start a fresh set.
func (c *Cache) LogoutAll(principalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tok := range c.sessions[principalID] {
		if e, ok := c.tokens[tok]; ok {
			e.valid = false
			e.remoteLogout = true
			e.expiresAt = c.now().Add(entrySweepTTL)
		}
	}
	delete(c.sessions, principalID)
}

// Sweep removes expired entries. Intended to run on a periodic ticker owned
// by whoever constructs the Cache (e.g. the gateway's bootstrap), not as an
// internal goroutine — keeps the component's lifetime fully explicit.
func (c *Cache) Sweep() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for tok, e := range c.tokens {
		if now.After(e.expiresAt) {
			delete(c.tokens, tok)
		}
	}
}

// ActiveCount reports the number of cached tokens, for the /status component
// health endpoint (SPEC_FULL "supplemented features").
func (c *Cache) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}

var errRandom = errors.New("tokens: failed to read random bytes")

// randomID mirrors internal/tunnel/token.go's shape (base32, no padding,
// 256-bit random) adapted here as the JWT's jti claim rather than the
// bearer itself, since the bearer is now a signed JWT, not a bare token.
func randomID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(errRandom)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
}
