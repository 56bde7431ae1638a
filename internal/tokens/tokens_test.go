package tokens_test

import (
	"testing"
	"time"

	"github.com/relayforge/sshgateway/internal/tokens"
)

func newCache() *tokens.Cache {
	return tokens.New([]byte("test-signing-key-not-for-prod"))
}

func TestIssueAndVerify(t *testing.T) {
	c := newCache()

	tok, err := c.Issue("principal-1")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	res := c.Verify(tok)
	if !res.Valid || res.PrincipalID != "principal-1" {
		t.Fatalf("Verify = %+v, want valid principal-1", res)
	}
}

func TestVerifyUnknownToken(t *testing.T) {
	c := newCache()
	res := c.Verify("not-a-real-token")
	if res.Valid {
		t.Fatal("Verify(garbage) should not be valid")
	}
	if res.Reason != "signature" {
		t.Fatalf("Reason = %q, want signature", res.Reason)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	fakeNow := time.Now()
	c := tokens.New([]byte("key"), tokens.WithTTL(time.Second), tokens.WithClock(func() time.Time { return fakeNow }))

	tok, err := c.Issue("p1")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	fakeNow = fakeNow.Add(2 * time.Second)
	res := c.Verify(tok)
	if res.Valid {
		t.Fatal("expired token should not verify")
	}
	if res.Reason != "expired" {
		t.Fatalf("Reason = %q, want expired", res.Reason)
	}
}

// TestLogoutAllFencesAllSessions covers spec §8's remote-logout property:
// after logoutAll(principal), every bearer token under that principal fails
// verifyToken with reason remote-logout.
func TestLogoutAllFencesAllSessions(t *testing.T) {
	c := newCache()

	t1, err := c.Issue("p1")
	if err != nil {
		t.Fatalf("Issue t1 error: %v", err)
	}
	t2, err := c.Issue("p1")
	if err != nil {
		t.Fatalf("Issue t2 error: %v", err)
	}
	other, err := c.Issue("p2")
	if err != nil {
		t.Fatalf("Issue other error: %v", err)
	}

	c.LogoutAll("p1")

	for _, tok := range []string{t1, t2} {
		res := c.Verify(tok)
		if res.Valid || res.Reason != "remote-logout" {
			t.Errorf("Verify(%q) = %+v, want remote-logout", tok, res)
		}
	}

	res := c.Verify(other)
	if !res.Valid {
		t.Errorf("other principal's token should be unaffected, got %+v", res)
	}
}

func TestActiveCount(t *testing.T) {
	c := newCache()
	if _, err := c.Issue("p1"); err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if _, err := c.Issue("p2"); err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if got := c.ActiveCount(); got != 2 {
		t.Fatalf("ActiveCount = %d, want 2", got)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	fakeNow := time.Now()
	c := tokens.New([]byte("key"), tokens.WithTTL(time.Second), tokens.WithClock(func() time.Time { return fakeNow }))

	if _, err := c.Issue("p1"); err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	fakeNow = fakeNow.Add(2 * time.Second)
	c.Sweep()

	if got := c.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount after sweep = %d, want 0", got)
	}
}
