package sftpengine

import (
	"fmt"
	"os"
	"sync"

	"github.com/pkg/sftp"

	"github.com/relayforge/sshgateway/internal/broker"
	"github.com/relayforge/sshgateway/internal/protocol"
)

// Engine owns one lazily-opened SFTP subsystem handle per session (spec
// §4.7: "opened lazily on first SFTP_* frame") plus the transfer registry
// and reassembly buffers for that session's in-flight operations.
type Engine struct {
	session *broker.Session
	writer  broker.FrameWriter
	cfg     Config

	mu     sync.Mutex
	client *sftp.Client

	reg *registry

	uploadsMu sync.Mutex
	uploads   map[string]*uploadBuffer
}

func New(session *broker.Session, writer broker.FrameWriter, cfg Config) *Engine {
	return &Engine{
		session: session,
		writer:  writer,
		cfg:     cfg,
		reg:     newRegistry(),
		uploads: make(map[string]*uploadBuffer),
	}
}

// Close tears down every in-flight transfer and the SFTP subsystem handle,
// used when the owning session closes (spec §5).
func (e *Engine) Close() error {
	e.reg.closeAll()

	e.uploadsMu.Lock()
	e.uploads = make(map[string]*uploadBuffer)
	e.uploadsMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		err := e.client.Close()
		e.client = nil
		return err
	}
	return nil
}

// sftpClient lazily opens the SFTP subsystem over the session's SSH connection.
func (e *Engine) sftpClient() (*sftp.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	sshClient := e.session.SSHClient()
	if sshClient == nil {
		return nil, fmt.Errorf("sftpengine: session has no live SSH connection")
	}
	c, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, fmt.Errorf("sftpengine: open sftp subsystem: %w", err)
	}
	e.client = c
	return c, nil
}

func (e *Engine) writeSuccess(operationID string, body any) error {
	return e.writer.WriteFrame(protocol.TypeSuccess, successHeader{
		SessionID:   e.session.ID,
		OperationID: operationID,
		Body:        body,
	}, nil)
}

func (e *Engine) writeError(operationID string, code protocol.ErrorCode, format string, args ...any) error {
	werr := protocol.Errorf(code, e.session.ID, operationID, format, args...)
	return e.writer.WriteFrame(protocol.TypeError, protocol.ErrorHeader{
		ErrorCode:    werr.Code,
		ErrorMessage: werr.Message,
		SessionID:    werr.SessionID,
		OperationID:  werr.OperationID,
	}, nil)
}

// successHeader is the SFTP_SUCCESS header shape: a small operation-specific
// JSON body plus the session/operation identifiers every response carries.
type successHeader struct {
	SessionID   string `json:"sessionId"`
	OperationID string `json:"operationId"`
	Body        any    `json:"-"`
}

// MarshalJSON flattens Body's fields alongside sessionId/operationId so the
// wire header is one flat object rather than a nested "body" key.
func (h successHeader) MarshalJSON() ([]byte, error) {
	return marshalFlat(map[string]any{"sessionId": h.SessionID, "operationId": h.OperationID}, h.Body)
}

// Entry is one directory listing row (spec §4.7 LIST).
type Entry struct {
	Name    string `json:"name"`
	Type    string `json:"type"` // file|dir|symlink|other
	Size    int64  `json:"size"`
	Mode    string `json:"mode"`
	ModTime int64  `json:"mtime"`
}

// ListHeader is the SFTP_LIST request header.
type ListHeader struct {
	SessionID   string `json:"sessionId"`
	OperationID string `json:"operationId"`
	Path        string `json:"path"`
}

// List implements the LIST metadata operation.
func (e *Engine) List(operationID, path string) error {
	client, err := e.sftpClient()
	if err != nil {
		return e.writeError(operationID, protocol.ErrFileStatErrorCode, "%v", err)
	}

	infos, err := client.ReadDir(path)
	if err != nil {
		return e.writeError(operationID, protocol.ErrFileStatErrorCode, "list %s: %v", path, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entryType := "file"
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			entryType = "symlink"
		case info.IsDir():
			entryType = "dir"
		case !info.Mode().IsRegular():
			entryType = "other"
		}
		entries = append(entries, Entry{
			Name:    info.Name(),
			Type:    entryType,
			Size:    info.Size(),
			Mode:    info.Mode().String(),
			ModTime: info.ModTime().Unix(),
		})
	}

	return e.writeSuccess(operationID, map[string]any{"entries": entries})
}

// MkdirHeader is the SFTP_MKDIR request header.
type MkdirHeader struct {
	SessionID   string `json:"sessionId"`
	OperationID string `json:"operationId"`
	Path        string `json:"path"`
}

func (e *Engine) Mkdir(operationID, path string) error {
	client, err := e.sftpClient()
	if err != nil {
		return e.writeError(operationID, protocol.ErrFileStatErrorCode, "%v", err)
	}
	if err := client.MkdirAll(path); err != nil {
		return e.writeError(operationID, protocol.ErrFileStatErrorCode, "mkdir %s: %v", path, err)
	}
	return e.writeSuccess(operationID, map[string]any{"path": path})
}

// DeleteHeader is the SFTP_DELETE request header.
type DeleteHeader struct {
	SessionID   string `json:"sessionId"`
	OperationID string `json:"operationId"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"isDirectory"`
}

// Delete removes path. isDirectory is the client's hint but Lstat is
// authoritative about which removal call applies.
func (e *Engine) Delete(operationID, path string, isDirectory bool) error {
	client, err := e.sftpClient()
	if err != nil {
		return e.writeError(operationID, protocol.ErrFileStatErrorCode, "%v", err)
	}

	info, statErr := client.Lstat(path)
	if statErr != nil {
		return e.writeError(operationID, protocol.ErrFileStatErrorCode, "stat %s: %v", path, statErr)
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		err = client.Remove(path)
	case info.IsDir():
		err = client.RemoveDirectory(path)
	default:
		err = client.Remove(path)
	}
	if err != nil {
		return e.writeError(operationID, protocol.ErrFileStatErrorCode, "delete %s: %v", path, err)
	}
	return e.writeSuccess(operationID, map[string]any{"path": path})
}

// RenameHeader is the SFTP_RENAME request header.
type RenameHeader struct {
	SessionID   string `json:"sessionId"`
	OperationID string `json:"operationId"`
	OldPath     string `json:"oldPath"`
	NewPath     string `json:"newPath"`
}

func (e *Engine) Rename(operationID, oldPath, newPath string) error {
	client, err := e.sftpClient()
	if err != nil {
		return e.writeError(operationID, protocol.ErrFileStatErrorCode, "%v", err)
	}
	if err := client.Rename(oldPath, newPath); err != nil {
		return e.writeError(operationID, protocol.ErrFileStatErrorCode, "rename %s -> %s: %v", oldPath, newPath, err)
	}
	return e.writeSuccess(operationID, map[string]any{"oldPath": oldPath, "newPath": newPath})
}

// ChmodHeader is the SFTP_CHMOD request header.
type ChmodHeader struct {
	SessionID   string `json:"sessionId"`
	OperationID string `json:"operationId"`
	Path        string `json:"path"`
	Permissions string `json:"permissions"` // octal string, e.g. "755"
}

func (e *Engine) Chmod(operationID, path, permissions string) error {
	client, err := e.sftpClient()
	if err != nil {
		return e.writeError(operationID, protocol.ErrFileStatErrorCode, "%v", err)
	}
	mode, err := parseOctalMode(permissions)
	if err != nil {
		return e.writeError(operationID, protocol.ErrFileStatErrorCode, "bad permissions %q: %v", permissions, err)
	}
	if err := client.Chmod(path, mode); err != nil {
		return e.writeError(operationID, protocol.ErrFileStatErrorCode, "chmod %s: %v", path, err)
	}
	return e.writeSuccess(operationID, map[string]any{"path": path, "permissions": permissions})
}
