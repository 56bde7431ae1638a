package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

// Creates the connections collection: spec.md §3's Connection Descriptor,
// persisted with its secret fields already vault-encrypted
// (internal/vault.ProcessConnectionSecrets encrypts secrets at the routes
// layer before a create, or an update that carries secrets, is saved, and
// decrypts them only when a session is started — the collection itself
// stores ciphertext and never plaintext credentials).
//
// Favorites/pinned are modeled as columns on this collection rather than
// join tables (SPEC_FULL.md §3): is_favorite and pinned_order are cheap for
// PocketBase to filter/sort without needing a second collection.
func init() {
	m.Register(func(app core.App) error {
		col := core.NewBaseCollection("connections")

		ownerRule := "owner = @request.auth.id"
		col.ListRule = types.Pointer(ownerRule)
		col.ViewRule = types.Pointer(ownerRule)
		col.CreateRule = types.Pointer(ownerRule)
		col.UpdateRule = types.Pointer(ownerRule)
		col.DeleteRule = types.Pointer(ownerRule)

		col.Fields.Add(&core.TextField{Name: "owner", Required: true, Max: 64})
		col.Fields.Add(&core.TextField{Name: "name", Required: true, Max: 200})
		col.Fields.Add(&core.TextField{Name: "host", Required: true, Max: 255})
		col.Fields.Add(&core.NumberField{Name: "port", Required: true})
		col.Fields.Add(&core.TextField{Name: "username", Required: true, Max: 200})
		col.Fields.Add(&core.SelectField{
			Name:      "auth_type",
			Required:  true,
			MaxSelect: 1,
			Values:    []string{"password", "key"},
		})
		// Ciphertext only — internal/vault.Encrypt's hex output.
		col.Fields.Add(&core.TextField{Name: "password_enc", Hidden: true})
		col.Fields.Add(&core.TextField{Name: "private_key_enc", Hidden: true})
		col.Fields.Add(&core.TextField{Name: "passphrase_enc", Hidden: true})
		col.Fields.Add(&core.BoolField{Name: "is_favorite"})
		col.Fields.Add(&core.NumberField{Name: "pinned_order"})
		col.Fields.Add(&core.NumberField{Name: "sort_order"})
		col.Fields.Add(&core.AutodateField{Name: "created", OnCreate: true})
		col.Fields.Add(&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true})

		col.Indexes = []string{
			"CREATE INDEX idx_connections_owner ON connections (owner)",
		}

		return app.Save(col)
	}, func(app core.App) error {
		col, err := app.FindCollectionByNameOrId("connections")
		if err != nil {
			return nil
		}
		return app.Delete(col)
	})
}
