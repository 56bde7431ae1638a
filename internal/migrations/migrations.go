// Package migrations contains PocketBase Go migrations for the gateway's
// custom collections: users.is_admin/mfa, connections, connection_history,
// audit_logs, app_settings.
//
// All migration files use init() to register with the PocketBase migration runner.
// The package must be blank-imported in main.go:
//
//	_ "github.com/relayforge/sshgateway/internal/migrations"
package migrations
