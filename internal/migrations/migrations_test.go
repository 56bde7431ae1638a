package migrations_test

import (
	"testing"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tests"

	// trigger init() registrations
	_ "github.com/relayforge/sshgateway/internal/migrations"
)

func TestGatewayCollectionsCreated(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	defer app.Cleanup()

	expected := []string{"connections", "connection_history", "audit_logs", "app_settings"}
	for _, name := range expected {
		col, err := app.FindCollectionByNameOrId(name)
		if err != nil {
			t.Errorf("collection %q not found: %v", name, err)
			continue
		}
		if col.Name != name {
			t.Errorf("expected collection name %q, got %q", name, col.Name)
		}
	}
}

func TestUsersCollectionHasAdminAndMFAFields(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	defer app.Cleanup()

	col, err := app.FindCollectionByNameOrId("users")
	if err != nil {
		t.Fatal(err)
	}

	assertFieldExists(t, col, "is_admin", core.FieldTypeBool)
	assertFieldExists(t, col, "mfa_enabled", core.FieldTypeBool)
	assertFieldExists(t, col, "mfa_secret", core.FieldTypeText)
	assertFieldExists(t, col, "status", core.FieldTypeSelect)
	assertFieldExists(t, col, "name", core.FieldTypeText)
	assertFieldExists(t, col, "avatar", core.FieldTypeFile)

	if f := col.Fields.GetByName("mfa_secret"); f == nil || !f.GetHidden() {
		t.Error("users.mfa_secret field should be hidden")
	}
}

func TestConnectionsCollectionFields(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	defer app.Cleanup()

	col, err := app.FindCollectionByNameOrId("connections")
	if err != nil {
		t.Fatal(err)
	}

	assertFieldExists(t, col, "owner", core.FieldTypeText)
	assertFieldExists(t, col, "name", core.FieldTypeText)
	assertFieldExists(t, col, "host", core.FieldTypeText)
	assertFieldExists(t, col, "port", core.FieldTypeNumber)
	assertFieldExists(t, col, "username", core.FieldTypeText)
	assertFieldExists(t, col, "auth_type", core.FieldTypeSelect)
	assertFieldExists(t, col, "password_enc", core.FieldTypeText)
	assertFieldExists(t, col, "private_key_enc", core.FieldTypeText)
	assertFieldExists(t, col, "passphrase_enc", core.FieldTypeText)
	assertFieldExists(t, col, "is_favorite", core.FieldTypeBool)
	assertFieldExists(t, col, "pinned_order", core.FieldTypeNumber)
	assertFieldExists(t, col, "sort_order", core.FieldTypeNumber)

	for _, secretField := range []string{"password_enc", "private_key_enc", "passphrase_enc"} {
		if f := col.Fields.GetByName(secretField); f == nil || !f.GetHidden() {
			t.Errorf("connections.%s should be hidden", secretField)
		}
	}
}

func TestConnectionHistoryCollectionFields(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	defer app.Cleanup()

	col, err := app.FindCollectionByNameOrId("connection_history")
	if err != nil {
		t.Fatal(err)
	}

	assertFieldExists(t, col, "owner", core.FieldTypeText)
	assertFieldExists(t, col, "connection_id", core.FieldTypeText)
	assertFieldExists(t, col, "connection_name", core.FieldTypeText)
	assertFieldExists(t, col, "host", core.FieldTypeText)
	assertFieldExists(t, col, "connected_at", core.FieldTypeAutodate)
}

func TestAuditLogsCollectionFields(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	defer app.Cleanup()

	col, err := app.FindCollectionByNameOrId("audit_logs")
	if err != nil {
		t.Fatal(err)
	}

	assertFieldExists(t, col, "user_id", core.FieldTypeText)
	assertFieldExists(t, col, "action", core.FieldTypeText)
	assertFieldExists(t, col, "resource_type", core.FieldTypeText)
	assertFieldExists(t, col, "resource_id", core.FieldTypeText)
	assertFieldExists(t, col, "status", core.FieldTypeSelect)
	assertFieldExists(t, col, "ip", core.FieldTypeText)
	assertFieldExists(t, col, "detail", core.FieldTypeJSON)
}

func TestAppSettingsCollectionSeeded(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	defer app.Cleanup()

	col, err := app.FindCollectionByNameOrId("app_settings")
	if err != nil {
		t.Fatal(err)
	}
	assertFieldExists(t, col, "module", core.FieldTypeText)
	assertFieldExists(t, col, "key", core.FieldTypeText)
	assertFieldExists(t, col, "value", core.FieldTypeJSON)

	if _, err := app.FindFirstRecordByFilter(
		"app_settings", "module = 'sftp' && key = 'limits'", nil,
	); err != nil {
		t.Errorf("expected seeded sftp/limits row: %v", err)
	}
	if _, err := app.FindFirstRecordByFilter(
		"app_settings", "module = 'broker' && key = 'timeouts'", nil,
	); err != nil {
		t.Errorf("expected seeded broker/timeouts row: %v", err)
	}
}

func assertFieldExists(t *testing.T, col *core.Collection, name, fieldType string) {
	t.Helper()
	f := col.Fields.GetByName(name)
	if f == nil {
		t.Errorf("collection %q: field %q not found", col.Name, name)
		return
	}
	if f.Type() != fieldType {
		t.Errorf("collection %q.%s: expected type %q, got %q", col.Name, name, fieldType, f.Type())
	}
}
