package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

// Adds is_admin to the users auth collection. The gateway's Principal model
// (spec.md §3) needs an admin flag that becomes true, atomically, on the
// first-ever successful registration (internal/auth.ElevateIfFirstAdmin) —
// PocketBase's own _superusers collection is reserved for the dashboard and
// is never used as the gateway's admin flag (see DESIGN.md).
func init() {
	m.Register(func(app core.App) error {
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		if users.Fields.GetByName("is_admin") == nil {
			users.Fields.Add(&core.BoolField{Name: "is_admin"})
		}
		if users.Fields.GetByName("mfa_enabled") == nil {
			users.Fields.Add(&core.BoolField{Name: "mfa_enabled"})
		}
		if users.Fields.GetByName("mfa_secret") == nil {
			users.Fields.Add(&core.TextField{Name: "mfa_secret", Hidden: true})
		}
		if users.Fields.GetByName("status") == nil {
			users.Fields.Add(&core.SelectField{
				Name:      "status",
				MaxSelect: 1,
				Values:    []string{"active", "disabled"},
			})
		}

		return app.Save(users)
	}, func(app core.App) error {
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return nil
		}
		users.Fields.RemoveByName("is_admin")
		users.Fields.RemoveByName("mfa_enabled")
		users.Fields.RemoveByName("mfa_secret")
		users.Fields.RemoveByName("status")
		return app.Save(users)
	})
}
