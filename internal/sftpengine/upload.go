package sftpengine

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	"github.com/relayforge/sshgateway/internal/protocol"
	"github.com/relayforge/sshgateway/internal/telemetry"
)

// UploadHeader is one SFTP_UPLOAD chunk request header (spec §4.7).
type UploadHeader struct {
	SessionID   string `json:"sessionId"`
	OperationID string `json:"operationId"`
	Filename    string `json:"filename"`
	RemotePath  string `json:"remotePath"`
	FileSize    int64  `json:"fileSize"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
	Checksum    string `json:"checksum,omitempty"` // only meaningful on the final chunk
}

// uploadBuffer is the per-operation reassembly buffer (spec §4.2's "Chunk
// Reassembly Buffer"): a sparse array of chunks keyed by index, released on
// the final chunk or on cancellation.
type uploadBuffer struct {
	filename    string
	remotePath  string
	fileSize    int64
	totalChunks int
	chunks      [][]byte
	received    int
	startedAt   time.Time
}

func newUploadBuffer(h UploadHeader) *uploadBuffer {
	return &uploadBuffer{
		filename:    h.Filename,
		remotePath:  h.RemotePath,
		fileSize:    h.FileSize,
		totalChunks: h.TotalChunks,
		chunks:      make([][]byte, h.TotalChunks),
		startedAt:   time.Now(),
	}
}

func (b *uploadBuffer) put(index int, data []byte) {
	if b.chunks[index] == nil {
		b.received++
	}
	b.chunks[index] = data
}

func (b *uploadBuffer) complete() bool { return b.received == b.totalChunks }

// assemble concatenates chunks in ascending chunkIndex order (spec §4.7:
// "the final assembly order is chunkIndex ascending").
func (b *uploadBuffer) assemble() []byte {
	out := make([]byte, 0, b.fileSize)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// HandleUploadChunk processes one SFTP_UPLOAD frame. Invariants from spec
// §4.7: totalChunks ≥ 1, 0 ≤ chunkIndex < totalChunks, chunks may arrive in
// any order. Emits SFTP_PROGRESS on every chunk and SFTP_SUCCESS (or an
// error frame) on the final one.
func (e *Engine) HandleUploadChunk(h UploadHeader, payload []byte) error {
	if h.TotalChunks < 1 {
		return e.writeError(h.OperationID, protocol.ErrUploadErrorCode, "totalChunks must be >= 1")
	}
	if h.ChunkIndex < 0 || h.ChunkIndex >= h.TotalChunks {
		return e.writeError(h.OperationID, protocol.ErrUploadErrorCode, "chunkIndex %d out of range [0,%d)", h.ChunkIndex, h.TotalChunks)
	}

	e.uploadsMu.Lock()
	buf, ok := e.uploads[h.OperationID]
	if !ok {
		buf = newUploadBuffer(h)
		e.uploads[h.OperationID] = buf
		e.reg.start(h.OperationID, "upload")
	}
	buf.put(h.ChunkIndex, payload)
	done := buf.complete()
	received := buf.received
	total := buf.totalChunks
	e.uploadsMu.Unlock()

	if e.reg.isCancelled(h.OperationID) {
		return nil
	}

	if err := e.writer.WriteFrame(protocol.TypeProgress, progressHeader{
		SessionID:        e.session.ID,
		OperationID:      h.OperationID,
		BytesTransferred: int64(received),
		TotalBytes:       int64(total),
	}, nil); err != nil {
		return err
	}

	if !done {
		return nil
	}

	return e.commitUpload(h.OperationID, buf, h.Checksum)
}

func (e *Engine) commitUpload(operationID string, buf *uploadBuffer, expectedChecksum string) error {
	defer func() {
		e.uploadsMu.Lock()
		delete(e.uploads, operationID)
		e.uploadsMu.Unlock()
		e.reg.finish(operationID)
	}()

	if e.reg.isCancelled(operationID) {
		return nil
	}

	data := buf.assemble()

	if expectedChecksum != "" {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != expectedChecksum {
			return e.writeError(operationID, protocol.ErrChecksumMismatchCode, "uploaded content does not match supplied checksum")
		}
	}

	if int64(len(data)) > e.cfg.MaxUploadSize {
		return e.writeError(operationID, protocol.ErrUploadErrorCode, "upload exceeds MAX_UPLOAD_SIZE (%d bytes)", e.cfg.MaxUploadSize)
	}

	client, err := e.sftpClient()
	if err != nil {
		return e.writeError(operationID, protocol.ErrUploadErrorCode, "%v", err)
	}

	f, err := client.Create(buf.remotePath)
	if err != nil {
		return e.writeError(operationID, protocol.ErrUploadErrorCode, "create %s: %v", buf.remotePath, err)
	}
	defer f.Close()

	// Empty files take the writeFile code path (a single zero-byte Write);
	// non-empty files stream through io.Copy the same way either way, since
	// pkg/sftp's Writer has no distinct "whole file" API.
	var written int64
	if len(data) == 0 {
		if _, err := f.Write(nil); err != nil {
			return e.writeError(operationID, protocol.ErrUploadErrorCode, "write %s: %v", buf.remotePath, err)
		}
	} else {
		n, err := io.Copy(f, bytes.NewReader(data))
		written = n
		if err != nil {
			return e.writeError(operationID, protocol.ErrUploadErrorCode, "write %s: %v", buf.remotePath, err)
		}
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	duration := time.Since(buf.startedAt)
	speed := transferSpeed(written, duration)

	telemetry.SFTPTransfer(e.session.ID, "upload", buf.remotePath, written, duration, nil)

	return e.writeSuccess(operationID, map[string]any{
		"filename":       buf.filename,
		"remotePath":     buf.remotePath,
		"totalSize":      written,
		"checksum":       checksum,
		"uploadDuration": duration.Milliseconds(),
		"transferSpeed":  speed,
	})
}

// progressHeader is the SFTP_PROGRESS header shape shared by upload,
// single-file download, and folder download.
type progressHeader struct {
	SessionID        string `json:"sessionId"`
	OperationID      string `json:"operationId"`
	BytesTransferred int64  `json:"bytesTransferred"`
	TotalBytes       int64  `json:"totalBytes"`
}

// transferSpeed computes bytes/second; guards against a zero or
// sub-millisecond duration reporting +Inf.
func transferSpeed(n int64, d time.Duration) float64 {
	seconds := d.Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(n) / seconds
}
