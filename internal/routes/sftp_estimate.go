package routes

import (
	"net/http"

	"github.com/pocketbase/pocketbase/core"

	"github.com/relayforge/sshgateway/internal/reconnect"
	"github.com/relayforge/sshgateway/internal/tokens"
)

// registerSFTPEstimateRoutes exposes internal/reconnect's background folder
// size/file-count estimate refresh (spec.md §4.8's folder download) as a
// conventional poll-then-read HTTP pair, so a client can kick off a refresh
// against a live session and later read back whatever the worker produced
// without blocking the stream's own dispatch goroutine on a slow remote
// `du`/`find` round trip.
func registerSFTPEstimateRoutes(se *core.ServeEvent, tokenCache *tokens.Cache, worker *reconnect.Worker) {
	if worker == nil {
		return
	}

	g := se.Router.Group("/api/gw/sftp/estimate")
	g.Bind(requireBearer(tokenCache))

	g.POST("", func(e *core.RequestEvent) error {
		var body struct {
			SessionID  string `json:"sessionId"`
			RemotePath string `json:"remotePath"`
		}
		if err := e.BindBody(&body); err != nil {
			return e.BadRequestError("invalid request body", err)
		}
		if body.SessionID == "" || body.RemotePath == "" {
			return e.BadRequestError("sessionId and remotePath are required", nil)
		}
		if err := worker.EnqueueFolderEstimateRefresh(body.SessionID, body.RemotePath); err != nil {
			return e.InternalServerError("failed to enqueue estimate refresh", err)
		}
		return e.JSON(http.StatusAccepted, map[string]any{"success": true})
	})

	g.GET("", func(e *core.RequestEvent) error {
		sessionID := e.Request.URL.Query().Get("sessionId")
		remotePath := e.Request.URL.Query().Get("remotePath")
		if sessionID == "" || remotePath == "" {
			return e.BadRequestError("sessionId and remotePath query parameters are required", nil)
		}
		estimate, ok := worker.LatestEstimate(sessionID, remotePath)
		if !ok {
			return e.JSON(http.StatusOK, map[string]any{"success": true, "ready": false})
		}
		resp := map[string]any{
			"success":   true,
			"ready":     true,
			"bytes":     estimate.Bytes,
			"fileCount": estimate.FileCount,
			"updatedAt": estimate.UpdatedAt,
		}
		if estimate.Err != nil {
			resp["error"] = estimate.Err.Error()
		}
		return e.JSON(http.StatusOK, resp)
	})
}
