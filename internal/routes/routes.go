// Package routes registers the gateway's custom API routes on top of
// PocketBase's generated CRUD/admin surface: account + MFA, connection
// management, and the WebSocket session endpoints spec.md §6 groups under
// the "HTTP Admission Layer" (component H).
package routes

import (
	"net/http"

	"github.com/pocketbase/pocketbase/core"

	"github.com/relayforge/sshgateway/internal/gateway"
	"github.com/relayforge/sshgateway/internal/monitor"
	"github.com/relayforge/sshgateway/internal/reconnect"
	"github.com/relayforge/sshgateway/internal/tokens"
)

// Register mounts every custom route group on the PocketBase router. gw is
// the already-constructed /ssh and /monitor handler (component D); tokens
// is the bearer cache shared between it and the HTTP routes here so a
// logout-all fencing event in one surface is honored by the other.
func Register(se *core.ServeEvent, gw *gateway.Server, tokenCache *tokens.Cache, collector monitor.Collector) {
	registerAuthRoutes(se, tokenCache)
	registerMfaRoutes(se, tokenCache)
	registerConnectionRoutes(se, tokenCache, gw.Pending)
	registerStatusRoute(se, tokenCache)
	registerMonitorRoutes(se, tokenCache, collector)
	registerSFTPEstimateRoutes(se, tokenCache, gw.Reconnect)

	// The session stream endpoints aren't PocketBase-record-backed, so they
	// bypass e.JSON entirely and hand the raw http.ResponseWriter/*http.Request
	// straight to the gateway server, which performs its own upgrade,
	// rate-limiting, and bearer check.
	se.Router.GET("/ssh", func(e *core.RequestEvent) error {
		gw.ServeSSH(e.Response, e.Request)
		return nil
	})
	se.Router.GET("/monitor", func(e *core.RequestEvent) error {
		gw.ServeMonitor(e.Response, e.Request)
		return nil
	})

	se.Router.GET("/", func(e *core.RequestEvent) error {
		return e.JSON(http.StatusOK, map[string]any{"service": "sshgateway"})
	})
}
