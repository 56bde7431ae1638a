package main

import (
	"context"
	"crypto/rand"
	"log"
	"os"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"

	"github.com/relayforge/sshgateway/internal/broker"
	"github.com/relayforge/sshgateway/internal/gateway"
	"github.com/relayforge/sshgateway/internal/monitor"
	"github.com/relayforge/sshgateway/internal/reconnect"
	"github.com/relayforge/sshgateway/internal/routes"
	"github.com/relayforge/sshgateway/internal/settings"
	"github.com/relayforge/sshgateway/internal/sftpengine"
	"github.com/relayforge/sshgateway/internal/telemetry"
	"github.com/relayforge/sshgateway/internal/tokens"

	// Register this repo's own PocketBase migrations (users.is_admin/mfa,
	// connections, connection_history).
	_ "github.com/relayforge/sshgateway/internal/migrations"
)

// tokenSigningKeyEnv is the bearer signing key, analogous to
// vault.EnvKey for the credential vault's own process key.
const tokenSigningKeyEnv = "GATEWAY_TOKEN_SIGNING_KEY"

func main() {
	telemetry.Configure(os.Getenv("GATEWAY_LOG_LEVEL"), os.Getenv("GATEWAY_LOG_PRETTY") != "")

	app := pocketbase.New()

	pending := gateway.NewPendingConnections(gateway.DefaultConfig().PendingConnectionTTL)
	collector := monitor.LocalProcessCollector{}

	// The reconnect worker is best-effort: if Redis isn't reachable it still
	// starts (asynq.Server.Run only errors on malformed config), and queued
	// tasks simply pile up unprocessed rather than taking the whole gateway
	// down, since neither the shell reconnect path nor the estimate refresh
	// endpoint is required for a session's own in-process retry loop to work.
	reconnectWorker := reconnect.New()
	reconnectWorker.Start()

	// gw and tokenCache are built from app_settings, so construction waits
	// until the first OnServe hook, once migrations have run and the row
	// seeded by internal/migrations is readable.
	var gw *gateway.Server
	var tokenCache *tokens.Cache
	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		tokenCache = tokens.New(signingKey(), tokens.WithTTL(loadTokenTTL(se.App)))
		gw = gateway.NewServer(gateway.DefaultConfig(), tokenCache, pending, loadBrokerConfig(se.App), loadSFTPConfig(se.App))
		gw.Reconnect = reconnectWorker
		routes.Register(se, gw, tokenCache, collector)
		return se.Next()
	})

	// Background sweep of abandoned pending connections and swept-but-stale
	// token entries, started once PocketBase begins serving and stopped on
	// termination.
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		go gw.SweepLoop(sweepCtx, time.Minute)
		go tokenSweepLoop(sweepCtx, tokenCache, time.Minute)
		return se.Next()
	})
	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		cancelSweep()
		reconnectWorker.Shutdown()
		return e.Next()
	})

	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
}

// signingKey resolves the bearer-signing key from the environment, falling
// back to a random per-process key for local development (unlike the
// vault's fixed dev key, a random one here is fine: it only needs to be
// stable within a single running process, never across restarts).
func signingKey() []byte {
	if v := os.Getenv(tokenSigningKeyEnv); v != "" {
		return []byte(v)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Fatalf("gatewayd: failed to generate a token signing key: %v", err)
	}
	return key
}

// loadBrokerConfig overlays app_settings' broker/timeouts group (seeded by
// internal/migrations) onto broker.DefaultConfig. A missing or unreadable
// row falls back field-by-field to the compiled default.
func loadBrokerConfig(app core.App) broker.Config {
	cfg := broker.DefaultConfig()
	group, _ := settings.GetGroup(app, "broker", "timeouts", nil)

	cfg.ConnectTimeout = time.Duration(settings.Int(group, "connectTimeoutSeconds", int(cfg.ConnectTimeout/time.Second))) * time.Second
	cfg.MaxRetry = settings.Int(group, "maxRetry", cfg.MaxRetry)
	cfg.ReconnectDelay = time.Duration(settings.Int(group, "reconnectDelaySeconds", int(cfg.ReconnectDelay/time.Second))) * time.Second
	cfg.KeepaliveInterval = time.Duration(settings.Int(group, "keepaliveIntervalSeconds", int(cfg.KeepaliveInterval/time.Second))) * time.Second
	cfg.PingExpiry = time.Duration(settings.Int(group, "heartbeatTimeoutSeconds", int(cfg.PingExpiry/time.Second))) * time.Second
	cfg.ClientSlowWindow = time.Duration(settings.Int(group, "clientSlowWindowMs", int(cfg.ClientSlowWindow/time.Millisecond))) * time.Millisecond
	return cfg
}

// loadSFTPConfig overlays app_settings' sftp/limits group onto
// sftpengine.DefaultConfig.
func loadSFTPConfig(app core.App) sftpengine.Config {
	cfg := sftpengine.DefaultConfig()
	group, _ := settings.GetGroup(app, "sftp", "limits", nil)

	cfg.MaxUploadSize = int64(settings.Int(group, "maxUploadMB", int(cfg.MaxUploadSize>>20))) << 20
	cfg.ChunkSize = settings.Int(group, "chunkSizeKB", cfg.ChunkSize>>10) << 10
	cfg.MaxFolderSize = int64(settings.Int(group, "folderDownloadMaxMB", int(cfg.MaxFolderSize>>20))) << 20
	return cfg
}

// loadTokenTTL reads the bearer token lifetime from app_settings'
// tokens/lifetime group, falling back to tokens.DefaultTTL.
func loadTokenTTL(app core.App) time.Duration {
	group, _ := settings.GetGroup(app, "tokens", "lifetime", nil)
	minutes := settings.Int(group, "accessTokenMinutes", int(tokens.DefaultTTL/time.Minute))
	return time.Duration(minutes) * time.Minute
}

func tokenSweepLoop(ctx context.Context, cache *tokens.Cache, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cache.Sweep()
		}
	}
}
