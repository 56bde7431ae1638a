// Package reconnect runs two background Asynq tasks that don't belong on a
// stream's own dispatch goroutine: requeuing a session's reconnect attempt
// under load, and refreshing a folder-download size/file-count estimate
// ahead of the client committing to the transfer.
//
// Grounded on internal/worker/worker.go's server/client/mux shape,
// repointed from Docker Compose app-lifecycle tasks at this gateway's own
// session and SFTP-preflight concerns.
package reconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/relayforge/sshgateway/internal/broker"
	"github.com/relayforge/sshgateway/internal/sftpengine"
)

const (
	// TaskReconnect requeues a transport-loss recovery off the session's
	// own goroutine, for deployments that would rather bound concurrent
	// in-process reconnect attempts than let every session retry on its
	// own timer simultaneously.
	TaskReconnect = "session:reconnect"

	// TaskFolderEstimateRefresh reruns a folder download's preflight
	// {bytes, fileCount} estimate in the background so a client polling
	// for an up-to-date number doesn't block on the stream dispatch loop.
	TaskFolderEstimateRefresh = "sftp:folder-estimate-refresh"
)

type reconnectPayload struct {
	SessionID string `json:"sessionId"`
}

type estimateRefreshPayload struct {
	SessionID  string `json:"sessionId"`
	RemotePath string `json:"remotePath"`
}

// FolderEstimate is the cached result of a TaskFolderEstimateRefresh run.
type FolderEstimate struct {
	Bytes     int64
	FileCount int
	UpdatedAt time.Time
	Err       error
}

// Worker manages the Asynq server and a shared client for enqueuing these
// two task types. Sessions register themselves at handshake and
// unregister at close so handlers can reach the live *broker.Session a
// queued task refers to — Asynq tasks only carry JSON, not Go values.
type Worker struct {
	server *asynq.Server
	client *asynq.Client

	sessionsMu sync.Mutex
	sessions   map[string]*broker.Session

	estimatesMu sync.Mutex
	estimates   map[string]FolderEstimate // key: sessionID + "\x00" + remotePath
}

// New creates a Worker connected to the Redis address in REDIS_ADDR
// (defaulting to localhost:6379, matching internal/worker.New). Call
// Start to begin processing and Shutdown to stop.
func New() *Worker {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	opt := asynq.RedisClientOpt{Addr: redisAddr}
	return &Worker{
		server: asynq.NewServer(opt, asynq.Config{
			Concurrency: 5,
			Queues: map[string]int{
				"default": 1,
			},
		}),
		client:    asynq.NewClient(opt),
		sessions:  make(map[string]*broker.Session),
		estimates: make(map[string]FolderEstimate),
	}
}

// RegisterSession makes sessionID's session reachable by a queued task.
// Called by the gateway right after a HANDSHAKE succeeds.
func (w *Worker) RegisterSession(sessionID string, s *broker.Session) {
	w.sessionsMu.Lock()
	w.sessions[sessionID] = s
	w.sessionsMu.Unlock()
}

// UnregisterSession drops a session at teardown, freeing the Worker's
// reference to it.
func (w *Worker) UnregisterSession(sessionID string) {
	w.sessionsMu.Lock()
	delete(w.sessions, sessionID)
	w.sessionsMu.Unlock()
}

func (w *Worker) lookupSession(sessionID string) (*broker.Session, bool) {
	w.sessionsMu.Lock()
	defer w.sessionsMu.Unlock()
	s, ok := w.sessions[sessionID]
	return s, ok
}

// EnqueueReconnect schedules a reconnect attempt for sessionID.
func (w *Worker) EnqueueReconnect(sessionID string) error {
	payload, err := json.Marshal(reconnectPayload{SessionID: sessionID})
	if err != nil {
		return err
	}
	_, err = w.client.Enqueue(asynq.NewTask(TaskReconnect, payload))
	return err
}

// EnqueueFolderEstimateRefresh schedules a background re-estimate of
// remotePath's size/file count on sessionID's SSH connection.
func (w *Worker) EnqueueFolderEstimateRefresh(sessionID, remotePath string) error {
	payload, err := json.Marshal(estimateRefreshPayload{SessionID: sessionID, RemotePath: remotePath})
	if err != nil {
		return err
	}
	_, err = w.client.Enqueue(asynq.NewTask(TaskFolderEstimateRefresh, payload))
	return err
}

// LatestEstimate returns the most recently refreshed estimate for
// sessionID+remotePath, if one has completed.
func (w *Worker) LatestEstimate(sessionID, remotePath string) (FolderEstimate, bool) {
	w.estimatesMu.Lock()
	defer w.estimatesMu.Unlock()
	e, ok := w.estimates[estimateKey(sessionID, remotePath)]
	return e, ok
}

func estimateKey(sessionID, remotePath string) string {
	return sessionID + "\x00" + remotePath
}

// Start begins processing tasks in a background goroutine. Call once.
func (w *Worker) Start() {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskReconnect, w.handleReconnect)
	mux.HandleFunc(TaskFolderEstimateRefresh, w.handleFolderEstimateRefresh)

	go func() {
		if err := w.server.Run(mux); err != nil {
			log.Printf("reconnect worker error: %v", err)
		}
	}()
}

// Client exposes the shared Asynq client, mirroring internal/worker.Worker's
// own accessor, for callers that want to enqueue without going through the
// two typed helper methods above.
func (w *Worker) Client() *asynq.Client {
	return w.client
}

// Shutdown gracefully stops the worker and closes the client connection.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	_ = w.client.Close()
}

func (w *Worker) handleReconnect(ctx context.Context, t *asynq.Task) error {
	var p reconnectPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		log.Printf("handleReconnect: unmarshal payload: %v", err)
		return err
	}

	session, ok := w.lookupSession(p.SessionID)
	if !ok {
		// Session already closed or never registered; nothing to retry.
		return nil
	}
	session.HandleTransportLoss(ctx, fmt.Errorf("reconnect: requeued via %s", TaskReconnect))
	return nil
}

func (w *Worker) handleFolderEstimateRefresh(ctx context.Context, t *asynq.Task) error {
	var p estimateRefreshPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		log.Printf("handleFolderEstimateRefresh: unmarshal payload: %v", err)
		return err
	}

	session, ok := w.lookupSession(p.SessionID)
	if !ok {
		return nil
	}
	client := session.SSHClient()
	if client == nil {
		w.storeEstimate(p.SessionID, p.RemotePath, FolderEstimate{Err: fmt.Errorf("session has no live SSH client")})
		return nil
	}

	bytes, fileCount, err := sftpengine.PreflightEstimate(client, p.RemotePath)
	w.storeEstimate(p.SessionID, p.RemotePath, FolderEstimate{
		Bytes: bytes, FileCount: fileCount, UpdatedAt: time.Now(), Err: err,
	})
	return nil
}

func (w *Worker) storeEstimate(sessionID, remotePath string, e FolderEstimate) {
	w.estimatesMu.Lock()
	w.estimates[estimateKey(sessionID, remotePath)] = e
	w.estimatesMu.Unlock()
}
