package auth

import (
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// ElevateIfFirstAdmin implements spec.md §3/§9's first-admin atomicity
// invariant: "at least one principal with isAdmin=true becomes true on
// first-ever successful registration and must remain true atomically" even
// under concurrent initial registrations. It runs inside an exclusive
// transaction so two goroutines racing to register the very first user
// cannot both observe zero admins and both elevate themselves.
func ElevateIfFirstAdmin(app core.App, userID string) error {
	return app.RunInTransaction(func(txApp core.App) error {
		count, err := txApp.CountRecords("users", dbx.HashExp{"is_admin": true})
		if err != nil {
			return fmt.Errorf("auth: count admins: %w", err)
		}
		if count > 0 {
			return nil
		}

		record, err := txApp.FindRecordById("users", userID)
		if err != nil {
			return fmt.Errorf("auth: find new user: %w", err)
		}
		record.Set("is_admin", true)
		if err := txApp.Save(record); err != nil {
			return fmt.Errorf("auth: elevate first admin: %w", err)
		}
		return nil
	})
}

// NeedsSetup reports whether the gateway has zero admins yet, mirroring
// internal/routes/setup.go's checkNeedsSetup but against users.is_admin
// rather than the _superusers collection (spec.md's Principal, not
// PocketBase's own dashboard auth).
func NeedsSetup(app core.App) (bool, error) {
	total, err := app.CountRecords("users", dbx.HashExp{"is_admin": true})
	if err != nil {
		return false, err
	}
	return total == 0, nil
}
