package migrations

import (
	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"

	"github.com/relayforge/sshgateway/internal/settings"
)

// Seed default rows for broker/timeouts and tokens/lifetime in
// app_settings.
//
// Uses an insert-if-not-exists pattern for each row.
// The down() function is a no-op — seed data is never rolled back.
func init() {
	type seedRow struct {
		module string
		key    string
		value  map[string]any
	}

	rows := []seedRow{
		{
			module: "broker",
			key:    "timeouts",
			value: map[string]any{
				"connectTimeoutSeconds":    10,
				"maxRetry":                 3,
				"reconnectDelaySeconds":    1,
				"keepaliveIntervalSeconds": 30,
				"heartbeatTimeoutSeconds":  90,
				"clientSlowWindowMs":       2000,
			},
		},
		{
			module: "tokens",
			key:    "lifetime",
			value: map[string]any{
				"accessTokenMinutes": 60,
			},
		},
	}

	m.Register(func(app core.App) error {
		for _, row := range rows {
			// Insert-if-not-exists: check before seeding.
			_, err := app.FindFirstRecordByFilter(
				"app_settings",
				"module = {:module} && key = {:key}",
				dbx.Params{"module": row.module, "key": row.key},
			)
			if err == nil {
				continue
			}
			if err := settings.SetGroup(app, row.module, row.key, row.value); err != nil {
				return err
			}
		}
		return nil
	}, func(app core.App) error {
		// Down: no-op — seed data is not rolled back.
		return nil
	})
}
