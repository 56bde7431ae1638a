package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

// Creates connection_history: spec.md §3's append-only History Entry,
// "trimmed to the most recent 20" per connection — the trim itself happens
// at the routes layer on append (internal/routes' handleAppendHistory calls
// trimHistory), at the handler layer rather than in a DB trigger.
func init() {
	m.Register(func(app core.App) error {
		col := core.NewBaseCollection("connection_history")

		ownerRule := "owner = @request.auth.id"
		col.ListRule = types.Pointer(ownerRule)
		col.ViewRule = types.Pointer(ownerRule)
		col.CreateRule = types.Pointer(ownerRule)
		col.DeleteRule = types.Pointer(ownerRule)
		col.UpdateRule = nil // append/delete only, never mutated in place

		col.Fields.Add(&core.TextField{Name: "owner", Required: true, Max: 64})
		col.Fields.Add(&core.TextField{Name: "connection_id", Required: true, Max: 64})
		col.Fields.Add(&core.TextField{Name: "connection_name", Max: 200})
		col.Fields.Add(&core.TextField{Name: "host", Max: 255})
		col.Fields.Add(&core.AutodateField{Name: "connected_at", OnCreate: true})

		col.Indexes = []string{
			"CREATE INDEX idx_connection_history_owner ON connection_history (owner)",
			"CREATE INDEX idx_connection_history_connection_id ON connection_history (connection_id)",
		}

		return app.Save(col)
	}, func(app core.App) error {
		col, err := app.FindCollectionByNameOrId("connection_history")
		if err != nil {
			return nil
		}
		return app.Delete(col)
	})
}
