package routes

import (
	"net/http"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"github.com/relayforge/sshgateway/internal/audit"
	"github.com/relayforge/sshgateway/internal/broker"
	"github.com/relayforge/sshgateway/internal/gateway"
	"github.com/relayforge/sshgateway/internal/tokens"
	"github.com/relayforge/sshgateway/internal/vault"
)

// historyLimit is spec.md §3's "trimmed to the most recent 20" cap on
// connection_history, enforced here (trimHistory) rather than in a DB
// trigger.
const historyLimit = 20

// registerConnectionRoutes registers the bearer-protected connection CRUD,
// favorites, history, and pinned-order routes spec.md §6 groups under one
// HTTP surface cell ("Connection CRUD, favorites, history ..., pinned,
// overview, sort-order"). Each gets its own route here, the way
// internal/routes/terminal.go documents each SFTP sub-route individually.
func registerConnectionRoutes(se *core.ServeEvent, tokenCache *tokens.Cache, pending *gateway.PendingConnections) {
	g := se.Router.Group("/api/gw/connections")
	g.Bind(requireBearer(tokenCache))

	g.GET("", handleListConnections)
	g.POST("", handleCreateConnection)
	// /overview and /sort-order are literal segments; PocketBase's router
	// (built on Go's pattern-based http.ServeMux) matches the most specific
	// pattern regardless of registration order, so they never fall through
	// to the /{id} wildcard below.
	g.GET("/overview", handleConnectionsOverview)
	g.POST("/sort-order", handleSetSortOrder)

	g.GET("/{id}", handleGetConnection)
	g.POST("/{id}", handleUpdateConnection) // PocketBase router groups don't special-case PATCH; POST-as-update matches the teacher's own ext routes.
	g.DELETE("/{id}", handleDeleteConnection)
	g.POST("/{id}/session", newStartSessionHandler(pending))

	g.POST("/{id}/favorite", handleSetFavorite)
	g.DELETE("/{id}/favorite", handleUnsetFavorite)

	g.POST("/{id}/pin", handleSetPinned)
	g.DELETE("/{id}/pin", handleUnsetPinned)

	g.GET("/{id}/history", handleListHistory)
	g.POST("/{id}/history", handleAppendHistory)
	g.DELETE("/{id}/history", handleClearHistory)
	g.DELETE("/{id}/history/{entryId}", handleDeleteHistoryEntry)
}

// newStartSessionHandler implements spec.md §4.1's connect-time secret
// decryption: it turns a stored connection into a one-shot pending
// descriptor the client then redeems in its HANDSHAKE frame against /ssh.
// The decrypted secrets never reach the HTTP response; only the opaque
// connectionId does.
func newStartSessionHandler(pending *gateway.PendingConnections) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		conn, err := findOwnedConnection(e)
		if err != nil {
			return e.NotFoundError("connection not found", err)
		}

		secrets, err := vault.ProcessConnectionSecrets(vault.ConnectionSecrets{
			Password:   conn.GetString("password_enc"),
			PrivateKey: conn.GetString("private_key_enc"),
			Passphrase: conn.GetString("passphrase_enc"),
		}, vault.Decrypt_)
		if err != nil {
			return e.InternalServerError("failed to decrypt connection secrets", err)
		}

		descriptor := broker.Descriptor{
			ConnectionID: conn.Id,
			Host:         conn.GetString("host"),
			Port:         conn.GetInt("port"),
			Username:     conn.GetString("username"),
			AuthType:     broker.AuthType(conn.GetString("auth_type")),
			Password:     secrets.Password,
			PrivateKey:   secrets.PrivateKey,
			Passphrase:   secrets.Passphrase,
		}

		connectionID := pending.Put(descriptor)

		audit.Write(e.App, audit.Entry{
			UserID: principalID(e), Action: "session.connect",
			ResourceType: "connection", ResourceID: conn.Id, ResourceName: conn.GetString("name"),
			Status: audit.StatusPending, IP: e.RealIP(), UserAgent: e.Request.Header.Get("User-Agent"),
		})

		return e.JSON(http.StatusOK, map[string]any{
			"success":      true,
			"connectionId": connectionID,
		})
	}
}

type connectionRequest struct {
	Name       string `json:"name"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	AuthType   string `json:"authType"`
	Password   string `json:"password"`
	PrivateKey string `json:"privateKey"`
	Passphrase string `json:"passphrase"`
}

func connectionToJSON(r *core.Record) map[string]any {
	return map[string]any{
		"id":          r.Id,
		"name":        r.GetString("name"),
		"host":        r.GetString("host"),
		"port":        r.GetInt("port"),
		"username":    r.GetString("username"),
		"authType":    r.GetString("auth_type"),
		"isFavorite":  r.GetBool("is_favorite"),
		"pinnedOrder": r.GetInt("pinned_order"),
		"sortOrder":   r.GetInt("sort_order"),
	}
}

func handleListConnections(e *core.RequestEvent) error {
	records, err := e.App.FindRecordsByFilter("connections",
		"owner = {:owner}", "sort_order", 0, 0,
		dbx.Params{"owner": principalID(e)})
	if err != nil {
		return e.InternalServerError("failed to list connections", err)
	}

	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		out = append(out, connectionToJSON(r))
	}
	return e.JSON(http.StatusOK, map[string]any{"success": true, "connections": out})
}

func handleCreateConnection(e *core.RequestEvent) error {
	var body connectionRequest
	if err := e.BindBody(&body); err != nil {
		return e.BadRequestError("invalid request body", err)
	}
	if body.Name == "" || body.Host == "" || body.Username == "" {
		return e.BadRequestError("name, host, and username are required", nil)
	}

	secrets, err := vault.ProcessConnectionSecrets(vault.ConnectionSecrets{
		Password:   body.Password,
		PrivateKey: body.PrivateKey,
		Passphrase: body.Passphrase,
	}, vault.Encrypt_)
	if err != nil {
		return e.InternalServerError("failed to encrypt connection secrets", err)
	}

	collection, err := e.App.FindCollectionByNameOrId("connections")
	if err != nil {
		return e.InternalServerError("connections collection missing", err)
	}

	record := core.NewRecord(collection)
	record.Set("owner", principalID(e))
	record.Set("name", body.Name)
	record.Set("host", body.Host)
	record.Set("port", body.Port)
	record.Set("username", body.Username)
	record.Set("auth_type", body.AuthType)
	record.Set("password_enc", secrets.Password)
	record.Set("private_key_enc", secrets.PrivateKey)
	record.Set("passphrase_enc", secrets.Passphrase)

	if err := e.App.Save(record); err != nil {
		return e.BadRequestError("failed to create connection", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"success": true, "connection": connectionToJSON(record)})
}

func findOwnedConnection(e *core.RequestEvent) (*core.Record, error) {
	record, err := e.App.FindRecordById("connections", e.Request.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if record.GetString("owner") != principalID(e) {
		return nil, errNotOwner
	}
	return record, nil
}

var errNotOwner = &ownerError{}

type ownerError struct{}

func (e *ownerError) Error() string { return "connection is not owned by the requesting principal" }

func handleGetConnection(e *core.RequestEvent) error {
	record, err := findOwnedConnection(e)
	if err != nil {
		return e.NotFoundError("connection not found", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"success": true, "connection": connectionToJSON(record)})
}

func handleUpdateConnection(e *core.RequestEvent) error {
	record, err := findOwnedConnection(e)
	if err != nil {
		return e.NotFoundError("connection not found", err)
	}

	var body connectionRequest
	if err := e.BindBody(&body); err != nil {
		return e.BadRequestError("invalid request body", err)
	}
	if body.Name != "" {
		record.Set("name", body.Name)
	}
	if body.Host != "" {
		record.Set("host", body.Host)
	}
	if body.Port != 0 {
		record.Set("port", body.Port)
	}
	if body.Username != "" {
		record.Set("username", body.Username)
	}
	if body.Password != "" || body.PrivateKey != "" || body.Passphrase != "" {
		secrets, err := vault.ProcessConnectionSecrets(vault.ConnectionSecrets{
			Password:   body.Password,
			PrivateKey: body.PrivateKey,
			Passphrase: body.Passphrase,
		}, vault.Encrypt_)
		if err != nil {
			return e.InternalServerError("failed to encrypt connection secrets", err)
		}
		if body.Password != "" {
			record.Set("password_enc", secrets.Password)
		}
		if body.PrivateKey != "" {
			record.Set("private_key_enc", secrets.PrivateKey)
		}
		if body.Passphrase != "" {
			record.Set("passphrase_enc", secrets.Passphrase)
		}
	}

	if err := e.App.Save(record); err != nil {
		return e.BadRequestError("failed to update connection", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"success": true, "connection": connectionToJSON(record)})
}

func handleDeleteConnection(e *core.RequestEvent) error {
	record, err := findOwnedConnection(e)
	if err != nil {
		return e.NotFoundError("connection not found", err)
	}
	if err := e.App.Delete(record); err != nil {
		return e.InternalServerError("failed to delete connection", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"success": true})
}

func handleSetFavorite(e *core.RequestEvent) error {
	return setFavorite(e, true)
}

func handleUnsetFavorite(e *core.RequestEvent) error {
	return setFavorite(e, false)
}

func setFavorite(e *core.RequestEvent, value bool) error {
	record, err := findOwnedConnection(e)
	if err != nil {
		return e.NotFoundError("connection not found", err)
	}
	record.Set("is_favorite", value)
	if err := e.App.Save(record); err != nil {
		return e.InternalServerError("failed to update favorite", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"success": true, "connection": connectionToJSON(record)})
}

func handleSetPinned(e *core.RequestEvent) error {
	var body struct {
		Order int `json:"order"`
	}
	_ = e.BindBody(&body)

	record, err := findOwnedConnection(e)
	if err != nil {
		return e.NotFoundError("connection not found", err)
	}
	record.Set("pinned_order", body.Order)
	if err := e.App.Save(record); err != nil {
		return e.InternalServerError("failed to pin connection", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"success": true, "connection": connectionToJSON(record)})
}

func handleUnsetPinned(e *core.RequestEvent) error {
	record, err := findOwnedConnection(e)
	if err != nil {
		return e.NotFoundError("connection not found", err)
	}
	record.Set("pinned_order", 0)
	if err := e.App.Save(record); err != nil {
		return e.InternalServerError("failed to unpin connection", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"success": true, "connection": connectionToJSON(record)})
}

func handleListHistory(e *core.RequestEvent) error {
	connID := e.Request.PathValue("id")
	records, err := e.App.FindRecordsByFilter("connection_history",
		"owner = {:owner} && connection_id = {:conn}", "-connected_at", historyLimit, 0,
		dbx.Params{"owner": principalID(e), "conn": connID})
	if err != nil {
		return e.InternalServerError("failed to list history", err)
	}

	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		out = append(out, map[string]any{
			"id":             r.Id,
			"connectionId":   r.GetString("connection_id"),
			"connectionName": r.GetString("connection_name"),
			"host":           r.GetString("host"),
			"connectedAt":    r.GetString("connected_at"),
		})
	}
	return e.JSON(http.StatusOK, map[string]any{"success": true, "history": out})
}

// handleAppendHistory records a connect event and trims the owner's history
// for this connection back down to historyLimit entries (spec.md §3).
func handleAppendHistory(e *core.RequestEvent) error {
	conn, err := findOwnedConnection(e)
	if err != nil {
		return e.NotFoundError("connection not found", err)
	}

	collection, err := e.App.FindCollectionByNameOrId("connection_history")
	if err != nil {
		return e.InternalServerError("connection_history collection missing", err)
	}
	record := core.NewRecord(collection)
	record.Set("owner", principalID(e))
	record.Set("connection_id", conn.Id)
	record.Set("connection_name", conn.GetString("name"))
	record.Set("host", conn.GetString("host"))
	if err := e.App.Save(record); err != nil {
		return e.InternalServerError("failed to append history", err)
	}

	trimHistory(e.App, principalID(e), conn.Id)

	return e.JSON(http.StatusOK, map[string]any{"success": true})
}

func trimHistory(app core.App, owner, connectionID string) {
	records, err := app.FindRecordsByFilter("connection_history",
		"owner = {:owner} && connection_id = {:conn}", "-connected_at", 0, 0,
		dbx.Params{"owner": owner, "conn": connectionID})
	if err != nil || len(records) <= historyLimit {
		return
	}
	for _, r := range records[historyLimit:] {
		_ = app.Delete(r)
	}
}

func handleClearHistory(e *core.RequestEvent) error {
	connID := e.Request.PathValue("id")
	records, err := e.App.FindRecordsByFilter("connection_history",
		"owner = {:owner} && connection_id = {:conn}", "", 0, 0,
		dbx.Params{"owner": principalID(e), "conn": connID})
	if err != nil {
		return e.InternalServerError("failed to load history", err)
	}
	for _, r := range records {
		_ = e.App.Delete(r)
	}
	return e.JSON(http.StatusOK, map[string]any{"success": true})
}

func handleDeleteHistoryEntry(e *core.RequestEvent) error {
	record, err := e.App.FindRecordById("connection_history", e.Request.PathValue("entryId"))
	if err != nil {
		return e.NotFoundError("history entry not found", err)
	}
	if record.GetString("owner") != principalID(e) {
		return e.NotFoundError("history entry not found", nil)
	}
	if err := e.App.Delete(record); err != nil {
		return e.InternalServerError("failed to delete history entry", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"success": true})
}

// handleConnectionsOverview gives the dashboard's landing view a single
// round trip: favorites, pinned, and the rest, pre-split.
func handleConnectionsOverview(e *core.RequestEvent) error {
	records, err := e.App.FindRecordsByFilter("connections",
		"owner = {:owner}", "sort_order", 0, 0,
		dbx.Params{"owner": principalID(e)})
	if err != nil {
		return e.InternalServerError("failed to load overview", err)
	}

	favorites := make([]map[string]any, 0)
	pinned := make([]map[string]any, 0)
	others := make([]map[string]any, 0)
	for _, r := range records {
		j := connectionToJSON(r)
		switch {
		case r.GetBool("is_favorite"):
			favorites = append(favorites, j)
		case r.GetInt("pinned_order") > 0:
			pinned = append(pinned, j)
		default:
			others = append(others, j)
		}
	}

	return e.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"favorites": favorites,
		"pinned":    pinned,
		"others":    others,
	})
}

func handleSetSortOrder(e *core.RequestEvent) error {
	var body struct {
		Order []string `json:"order"` // connection ids, desired order
	}
	if err := e.BindBody(&body); err != nil {
		return e.BadRequestError("invalid request body", err)
	}

	for i, id := range body.Order {
		record, err := e.App.FindRecordById("connections", id)
		if err != nil || record.GetString("owner") != principalID(e) {
			continue
		}
		record.Set("sort_order", i)
		_ = e.App.Save(record)
	}
	return e.JSON(http.StatusOK, map[string]any{"success": true})
}
