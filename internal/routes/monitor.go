package routes

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/pocketbase/pocketbase/core"

	"github.com/relayforge/sshgateway/internal/monitor"
	"github.com/relayforge/sshgateway/internal/tokens"
)

// registerMonitorRoutes exercises monitor.Collector outside the /monitor
// WebSocket subscription path itself (spec.md §4.9 keeps actual metrics
// collection optional and out of core scope; this is the one concrete,
// demonstrable consumer of it).
func registerMonitorRoutes(se *core.ServeEvent, tokenCache *tokens.Cache, collector monitor.Collector) {
	g := se.Router.Group("/api/gw/monitor")
	g.Bind(requireBearer(tokenCache))

	g.GET("/processes", func(e *core.RequestEvent) error {
		pidsParam := e.Request.URL.Query().Get("pids")
		if pidsParam == "" {
			return e.BadRequestError("pids query parameter is required", nil)
		}

		var pids []int
		for _, s := range strings.Split(pidsParam, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return e.BadRequestError("pids must be a comma-separated list of integers", err)
			}
			pids = append(pids, n)
		}

		metrics := collector.Collect(e.Request.Context(), pids)
		return e.JSON(http.StatusOK, map[string]any{"success": true, "metrics": metrics})
	})
}
