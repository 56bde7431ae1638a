package sftpengine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path"
	"time"

	"github.com/relayforge/sshgateway/internal/protocol"
	"github.com/relayforge/sshgateway/internal/telemetry"
)

// DownloadHeader is the SFTP_DOWNLOAD request header.
type DownloadHeader struct {
	SessionID   string `json:"sessionId"`
	OperationID string `json:"operationId"`
	RemotePath  string `json:"remotePath"`
}

// fileDataHeader is the SFTP_FILE_DATA response header.
type fileDataHeader struct {
	SessionID        string  `json:"sessionId"`
	OperationID      string  `json:"operationId"`
	Filename         string  `json:"filename"`
	MimeType         string  `json:"mimeType"`
	Size             int64   `json:"size"`
	Checksum         string  `json:"checksum"`
	DownloadDuration int64   `json:"downloadDuration"`
	TransferSpeed    float64 `json:"transferSpeed"`
}

// Download implements the single-file download operation (spec §4.7).
func (e *Engine) Download(ctx context.Context, operationID, remotePath string) error {
	client, err := e.sftpClient()
	if err != nil {
		return e.writeError(operationID, protocol.ErrDownloadErrorCode, "%v", err)
	}

	info, err := client.Stat(remotePath)
	if err != nil {
		return e.writeError(operationID, protocol.ErrFileStatErrorCode, "stat %s: %v", remotePath, err)
	}
	if info.IsDir() {
		return e.writeError(operationID, protocol.ErrInvalidFileTypeCode, "%s is a directory", remotePath)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.FileDownloadTimeout)
	defer cancel()

	t := e.reg.start(operationID, "fileDownload")
	f, err := client.Open(remotePath)
	if err != nil {
		e.reg.finish(operationID)
		return e.writeError(operationID, protocol.ErrDownloadErrorCode, "open %s: %v", remotePath, err)
	}
	e.reg.setCancel(t, func() { _ = f.Close() })
	defer func() {
		e.reg.finish(operationID)
		f.Close()
	}()

	total := info.Size()
	var buf bytes.Buffer
	buf.Grow(int(total))
	hash := sha256.New()
	started := time.Now()

	chunk := make([]byte, 256<<10)
	var transferred int64
	for {
		select {
		case <-ctx.Done():
			return e.writeError(operationID, protocol.ErrDownloadErrorCode, "download of %s timed out", remotePath)
		default:
		}

		n, rerr := f.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			hash.Write(chunk[:n])
			transferred += int64(n)
			if e.reg.isCancelled(operationID) {
				return nil
			}
			if err := e.writer.WriteFrame(protocol.TypeProgress, progressHeader{
				SessionID:        e.session.ID,
				OperationID:      operationID,
				BytesTransferred: transferred,
				TotalBytes:       total,
			}, nil); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return e.writeError(operationID, protocol.ErrDownloadErrorCode, "read %s: %v", remotePath, rerr)
		}
	}

	if e.reg.isCancelled(operationID) {
		return nil
	}

	duration := time.Since(started)
	checksum := hex.EncodeToString(hash.Sum(nil))
	filename := path.Base(remotePath)

	hdr := fileDataHeader{
		SessionID:        e.session.ID,
		OperationID:      operationID,
		Filename:         filename,
		MimeType:         mimeType(filename),
		Size:             transferred,
		Checksum:         checksum,
		DownloadDuration: duration.Milliseconds(),
		TransferSpeed:    transferSpeed(transferred, duration),
	}
	telemetry.SFTPTransfer(e.session.ID, "download", remotePath, transferred, duration, nil)
	return e.writer.WriteFrame(protocol.TypeSFTPFileData, hdr, buf.Bytes())
}
