package tokens

import "context"

// PrincipalStore is the persistence seam RegisterFirstAdmin needs. It is
// implemented by internal/auth against PocketBase's users collection; kept
// as an interface here so the atomicity logic is testable without a real
// database.
type PrincipalStore interface {
	// CountAdmins returns how many principals currently have isAdmin=true.
	// Must run inside the same transaction WithTransaction started.
	CountAdmins(ctx context.Context) (int, error)
	// CreatePrincipal inserts a new principal; isAdmin is set by the caller
	// based on CountAdmins' result.
	CreatePrincipal(ctx context.Context, username, passwordHash string, isAdmin bool) (string, error)
	// WithTransaction runs fn inside one exclusive transaction on the
	// persistent store. Any error returned by fn rolls the transaction back.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// RegisterFirstAdmin runs spec §4.2's atomic "count admins, if zero create
// this user as admin" sequence inside one exclusive transaction, so
// concurrent initial registrations cannot both observe zero admins and
// both end up isAdmin=true.
func RegisterFirstAdmin(ctx context.Context, store PrincipalStore, username, passwordHash string) (principalID string, isAdmin bool, err error) {
	err = store.WithTransaction(ctx, func(ctx context.Context) error {
		count, cErr := store.CountAdmins(ctx)
		if cErr != nil {
			return cErr
		}
		isAdmin = count == 0

		id, cErr := store.CreatePrincipal(ctx, username, passwordHash, isAdmin)
		if cErr != nil {
			return cErr
		}
		principalID = id
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return principalID, isAdmin, nil
}
