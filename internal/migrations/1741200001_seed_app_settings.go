package migrations

import (
	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"

	"github.com/relayforge/sshgateway/internal/settings"
)

// Seed the default sftp/limits row in app_settings.
//
// Uses an insert-if-not-exists pattern: if the row already exists (e.g. the
// admin has already customised it), the migration does nothing.
// The down() function is a no-op — seed data is never rolled back.
func init() {
	m.Register(func(app core.App) error {
		// Check if the row already exists.
		_, err := app.FindFirstRecordByFilter(
			"app_settings",
			"module = {:module} && key = {:key}",
			dbx.Params{"module": "sftp", "key": "limits"},
		)
		if err == nil {
			// Row already present — skip seed.
			return nil
		}

		return settings.SetGroup(app, "sftp", "limits", map[string]any{
			"maxUploadMB":         2048,
			"chunkSizeKB":         256,
			"folderDownloadMaxMB": 4096,
		})
	}, func(app core.App) error {
		// Down: no-op — seed data is not rolled back.
		return nil
	})
}
