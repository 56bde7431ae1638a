package tokens_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/relayforge/sshgateway/internal/tokens"
)

// fakeStore is an in-memory PrincipalStore that serializes WithTransaction
// the way an exclusive DB transaction would, so the test can exercise the
// "exactly one admin under concurrent registration" invariant without a
// real database.
type fakeStore struct {
	mu       sync.Mutex
	principals []fakePrincipal
}

type fakePrincipal struct {
	id      string
	isAdmin bool
}

func (f *fakeStore) WithTransaction(_ context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(context.Background())
}

func (f *fakeStore) CountAdmins(_ context.Context) (int, error) {
	n := 0
	for _, p := range f.principals {
		if p.isAdmin {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CreatePrincipal(_ context.Context, username, _ string, isAdmin bool) (string, error) {
	id := fmt.Sprintf("id-%d", len(f.principals))
	f.principals = append(f.principals, fakePrincipal{id: id, isAdmin: isAdmin})
	return id, nil
}

func TestRegisterFirstAdminConcurrentRegistrationsExactlyOneAdmin(t *testing.T) {
	store := &fakeStore{}

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, _, err := tokens.RegisterFirstAdmin(context.Background(), store, fmt.Sprintf("user-%d", i), "hash")
			if err != nil {
				t.Errorf("RegisterFirstAdmin error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()

	admins := 0
	for _, p := range store.principals {
		if p.isAdmin {
			admins++
		}
	}
	if admins != 1 {
		t.Fatalf("admins = %d, want exactly 1", admins)
	}
	if len(store.principals) != n {
		t.Fatalf("principals created = %d, want %d", len(store.principals), n)
	}
}
