package sftpengine

import (
	"context"
	"fmt"

	"github.com/relayforge/sshgateway/internal/protocol"
)

// HandleFrame routes one decoded SFTP_* frame to the matching engine
// operation (spec §4.3: "SFTP_* → SFTP Engine"). The gateway's read loop
// calls this directly; Engine owns everything downstream (reassembly,
// cancellation, the lazy SFTP handle).
func (e *Engine) HandleFrame(ctx context.Context, f protocol.Frame) error {
	switch f.Type {
	case protocol.TypeSFTPList:
		var h ListHeader
		if err := protocol.DecodeHeader(f, &h); err != nil {
			return err
		}
		return e.List(h.OperationID, h.Path)

	case protocol.TypeSFTPMkdir:
		var h MkdirHeader
		if err := protocol.DecodeHeader(f, &h); err != nil {
			return err
		}
		return e.Mkdir(h.OperationID, h.Path)

	case protocol.TypeSFTPDelete:
		var h DeleteHeader
		if err := protocol.DecodeHeader(f, &h); err != nil {
			return err
		}
		return e.Delete(h.OperationID, h.Path, h.IsDirectory)

	case protocol.TypeSFTPRename:
		var h RenameHeader
		if err := protocol.DecodeHeader(f, &h); err != nil {
			return err
		}
		return e.Rename(h.OperationID, h.OldPath, h.NewPath)

	case protocol.TypeSFTPChmod:
		var h ChmodHeader
		if err := protocol.DecodeHeader(f, &h); err != nil {
			return err
		}
		return e.Chmod(h.OperationID, h.Path, h.Permissions)

	case protocol.TypeSFTPUpload:
		var h UploadHeader
		if err := protocol.DecodeHeader(f, &h); err != nil {
			return err
		}
		return e.HandleUploadChunk(h, f.Payload)

	case protocol.TypeSFTPDownload:
		var h DownloadHeader
		if err := protocol.DecodeHeader(f, &h); err != nil {
			return err
		}
		return e.Download(ctx, h.OperationID, h.RemotePath)

	case protocol.TypeSFTPDownloadFolder:
		var h FolderDownloadHeader
		if err := protocol.DecodeHeader(f, &h); err != nil {
			return err
		}
		return e.DownloadFolder(ctx, h.OperationID, h.RemotePath, h.Format)

	case protocol.TypeSFTPCancel:
		var h CancelHeader
		if err := protocol.DecodeHeader(f, &h); err != nil {
			return err
		}
		return e.HandleCancel(h.OperationID)

	case protocol.TypeSFTPInit, protocol.TypeSFTPClose:
		// No-ops: the subsystem handle opens lazily on first real request
		// and closes with the session, not on an explicit frame.
		return nil

	default:
		return fmt.Errorf("sftpengine: unsupported frame type %#x", byte(f.Type))
	}
}

// CancelHeader is the SFTP_CANCEL request header.
type CancelHeader struct {
	SessionID   string `json:"sessionId"`
	OperationID string `json:"operationId"`
}

// HandleCancel implements SFTP_CANCEL (spec §4.7): cancel the operation,
// tear down its handle, and reply SFTP_SUCCESS{message:"cancelled"}
// regardless of whether it was still live, matching the spec's "atomically
// ... replies SFTP_SUCCESS" wording.
//
// An in-flight upload never registers a setCancel handle with e.reg (there's
// no remote handle to abort until the final chunk commits), so cancelOp's
// own teardown is a no-op for it; the chunk reassembly buffer is freed here
// explicitly instead, or commitUpload's defer would otherwise be the only
// thing to free it, which never runs for an upload cancelled mid-transfer.
func (e *Engine) HandleCancel(operationID string) error {
	e.reg.cancelOp(operationID)

	e.uploadsMu.Lock()
	delete(e.uploads, operationID)
	e.uploadsMu.Unlock()

	return e.writeSuccess(operationID, map[string]any{"message": "cancelled"})
}
