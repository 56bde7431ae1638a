package sftpengine

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	cryptossh "golang.org/x/crypto/ssh"

	"github.com/relayforge/sshgateway/internal/protocol"
	"github.com/relayforge/sshgateway/internal/telemetry"
)

// FolderDownloadHeader is the SFTP_DOWNLOAD_FOLDER request header.
type FolderDownloadHeader struct {
	SessionID   string `json:"sessionId"`
	OperationID string `json:"operationId"`
	RemotePath  string `json:"remotePath"`
	Format      string `json:"format,omitempty"` // "zip" forces the ZIP fallback
}

// folderDataHeader is the SFTP_FOLDER_DATA response header.
type folderDataHeader struct {
	SessionID     string   `json:"sessionId"`
	OperationID   string   `json:"operationId"`
	Filename      string   `json:"filename"`
	MimeType      string   `json:"mimeType"`
	Size          int64    `json:"size"`
	Checksum      string   `json:"checksum"`
	FileCount     int      `json:"fileCount,omitempty"`
	SkippedFiles  []string `json:"skippedFiles"`
	ErrorFiles    []string `json:"errorFiles"`
	Summary       summary  `json:"summary"`
}

type summary struct {
	TotalFiles    int `json:"totalFiles,omitempty"`
	IncludedFiles int `json:"includedFiles,omitempty"`
	SkippedCount  int `json:"skippedCount,omitempty"`
	ErrorCount    int `json:"errorCount,omitempty"`
}

type preflightResult struct {
	hasTar      bool
	isDirectory bool
	estBytes    int64
	fileCount   int
}

// preflightFolder estimates a remote directory's size and file count and
// checks for tar's availability, in one round trip (spec §4.7: "Preflight:
// execute a shell preflight that verifies tar exists, the path is a
// directory, and estimates {bytes, fileCount}").
func preflightFolder(client *cryptossh.Client, remotePath string) (preflightResult, error) {
	sess, err := client.NewSession()
	if err != nil {
		return preflightResult{}, fmt.Errorf("ssh session: %w", err)
	}
	defer sess.Close()

	script := fmt.Sprintf(
		`if command -v tar >/dev/null 2>&1; then echo HASTAR; else echo NOTAR; fi
if [ -d %[1]q ]; then echo ISDIR; else echo NOTDIR; fi
du -sb %[1]q 2>/dev/null | cut -f1 || echo 0
find %[1]q -type f 2>/dev/null | wc -l || echo 0`, remotePath)

	out, err := sess.CombinedOutput(script)
	if err != nil {
		return preflightResult{}, fmt.Errorf("preflight: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	res := preflightResult{}
	for i, l := range lines {
		l = strings.TrimSpace(l)
		switch i {
		case 0:
			res.hasTar = l == "HASTAR"
		case 1:
			res.isDirectory = l == "ISDIR"
		case 2:
			res.estBytes, _ = strconv.ParseInt(l, 10, 64)
		case 3:
			res.fileCount, _ = strconv.Atoi(l)
		}
	}
	return res, nil
}

// PreflightEstimate exposes preflightFolder's {bytes, fileCount} estimate
// to callers outside this package (internal/reconnect's background
// refresh job), so a slow remote `du`/`find` round trip doesn't have to
// block the stream's own dispatch goroutine when the client just wants an
// up-to-date size before committing to DownloadFolder.
func PreflightEstimate(client *cryptossh.Client, remotePath string) (bytes int64, fileCount int, err error) {
	res, err := preflightFolder(client, remotePath)
	if err != nil {
		return 0, 0, err
	}
	return res.estBytes, res.fileCount, nil
}

// DownloadFolder implements folder download: remote tar.gz preferred,
// in-gateway ZIP fallback (spec §4.7).
func (e *Engine) DownloadFolder(ctx context.Context, operationID, remotePath, format string) error {
	sshClient := e.session.SSHClient()
	if sshClient == nil {
		return e.writeError(operationID, protocol.ErrDownloadErrorCode, "session has no live SSH connection")
	}

	pre, err := preflightFolder(sshClient, remotePath)
	if err != nil {
		return e.writeError(operationID, protocol.ErrFileStatErrorCode, "%v", err)
	}
	if !pre.isDirectory {
		return e.writeError(operationID, protocol.ErrInvalidFolderTypeCode, "%s is not a directory", remotePath)
	}
	if pre.estBytes > e.cfg.MaxFolderSize {
		return e.writeError(operationID, protocol.ErrFolderTooLargeCode, "%s exceeds MAX_FOLDER_SIZE (%d bytes)", remotePath, e.cfg.MaxFolderSize)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.FolderTimeout)
	defer cancel()

	wantZip := format == "zip" || !pre.hasTar
	if !wantZip {
		err := e.tarDownload(ctx, operationID, remotePath, pre.estBytes, pre.fileCount)
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		// Both tar attempts failed (or the transport died mid-stream);
		// fall through to the ZIP fallback rather than surfacing the
		// tar error directly.
	}

	return e.zipDownload(ctx, operationID, remotePath, pre.estBytes)
}

// tarDownload streams `tar czf -` output over the SSH exec channel.
func (e *Engine) tarDownload(ctx context.Context, operationID, remotePath string, estUncompressed int64, fileCount int) error {
	sshClient := e.session.SSHClient()
	cmds := []string{
		fmt.Sprintf("cd %q && tar --numeric-owner -p --acls --xattrs -czf - .", remotePath),
		fmt.Sprintf("cd %q && tar -p -czf - .", remotePath),
	}

	var lastErr error
	for _, cmd := range cmds {
		data, err := e.runTarStream(ctx, sshClient, operationID, cmd, estUncompressed)
		if err == nil {
			return e.finishArchive(operationID, remotePath, ".tar.gz", "application/gzip", data, fileCount, []string{}, []string{})
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (e *Engine) runTarStream(ctx context.Context, client *cryptossh.Client, operationID, cmd string, estUncompressed int64) ([]byte, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session: %w", err)
	}

	t := e.reg.start(operationID, "folderDownload")
	e.reg.setCancel(t, func() { _ = sess.Close() })
	defer func() {
		e.reg.finish(operationID)
		sess.Close()
	}()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := sess.Start(cmd); err != nil {
		return nil, fmt.Errorf("start tar: %w", err)
	}

	estCompressed := int64(float64(estUncompressed) * 0.3)
	if estCompressed <= 0 {
		estCompressed = 1
	}

	var buf bytes.Buffer
	chunk := make([]byte, 256<<10)
	var transferred int64
	for {
		select {
		case <-ctx.Done():
			_ = sess.Close()
			return nil, fmt.Errorf("folder download timed out")
		default:
		}

		n, rerr := stdout.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			transferred += int64(n)
			if transferred > estCompressed {
				// Grow the estimate rather than reporting past 100%.
				estCompressed = transferred + transferred/4
			}
			if e.reg.isCancelled(operationID) {
				return nil, context.Canceled
			}
			if werr := e.writer.WriteFrame(protocol.TypeProgress, progressHeader{
				SessionID:        e.session.ID,
				OperationID:      operationID,
				BytesTransferred: transferred,
				TotalBytes:       estCompressed,
			}, nil); werr != nil {
				return nil, werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, rerr
		}
	}

	if err := sess.Wait(); err != nil {
		return nil, fmt.Errorf("tar exited nonzero: %w", err)
	}
	return buf.Bytes(), nil
}

// zipDownload walks the remote tree over SFTP and compresses it in-gateway.
func (e *Engine) zipDownload(ctx context.Context, operationID, remotePath string, estUncompressed int64) error {
	client, err := e.sftpClient()
	if err != nil {
		return e.writeError(operationID, protocol.ErrZipProcessingErrorCode, "%v", err)
	}

	t := e.reg.start(operationID, "folderDownload")
	defer e.reg.finish(operationID)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	e.reg.setCancel(t, func() { _ = zw.Close() })

	var skipped, errored []string
	var totalFiles, included int
	estCompressed := int64(float64(estUncompressed) * 0.4)
	if estCompressed <= 0 {
		estCompressed = 1
	}
	var writtenUncompressed int64

	walker := client.Walk(remotePath)
	for walker.Step() {
		select {
		case <-ctx.Done():
			_ = zw.Close()
			return e.writeError(operationID, protocol.ErrZipProcessingErrorCode, "folder download timed out")
		default:
		}
		if e.reg.isCancelled(operationID) {
			_ = zw.Close()
			return nil
		}
		if err := walker.Err(); err != nil {
			errored = append(errored, walker.Path())
			continue
		}

		info := walker.Stat()
		rel := strings.TrimPrefix(strings.TrimPrefix(walker.Path(), remotePath), "/")
		if rel == "" {
			continue
		}
		name := path.Base(rel)

		if info.IsDir() {
			if skipByName(name) {
				skipped = append(skipped, rel)
				walker.SkipDir()
			}
			continue
		}

		totalFiles++

		if strings.HasPrefix(name, ".") || skipByName(name) {
			skipped = append(skipped, rel)
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 || !info.Mode().IsRegular() {
			skipped = append(skipped, rel)
			continue
		}
		if info.Size() > e.cfg.MaxFileSize {
			skipped = append(skipped, rel)
			continue
		}

		data, rerr := e.readRemoteFileWithTimeout(client, walker.Path(), e.cfg.FileReadTimeout)
		if rerr != nil {
			errored = append(errored, rel)
			continue
		}

		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     rel,
			Method:   zip.Deflate,
			Modified: info.ModTime(),
		})
		if err != nil {
			errored = append(errored, rel)
			continue
		}
		if _, err := fw.Write(data); err != nil {
			errored = append(errored, rel)
			continue
		}
		included++
		writtenUncompressed += int64(len(data))

		if writtenUncompressed > estUncompressed && estUncompressed > 0 {
			estCompressed = int64(float64(writtenUncompressed) * 0.4)
		}
		if e.reg.isCancelled(operationID) {
			_ = zw.Close()
			return nil
		}
		if werr := e.writer.WriteFrame(protocol.TypeProgress, progressHeader{
			SessionID:        e.session.ID,
			OperationID:      operationID,
			BytesTransferred: int64(float64(writtenUncompressed) * 0.4),
			TotalBytes:       estCompressed,
		}, nil); werr != nil {
			_ = zw.Close()
			return werr
		}
	}

	if err := zw.Close(); err != nil {
		return e.writeError(operationID, protocol.ErrZipCompressionErrorCode, "close archive: %v", err)
	}

	if e.reg.isCancelled(operationID) {
		return nil
	}

	// Final 100% progress frame (spec §4.7: "a final 100% on close").
	if err := e.writer.WriteFrame(protocol.TypeProgress, progressHeader{
		SessionID:        e.session.ID,
		OperationID:      operationID,
		BytesTransferred: int64(buf.Len()),
		TotalBytes:       int64(buf.Len()),
	}, nil); err != nil {
		return err
	}

	sum := map[string]any{
		"totalFiles":    totalFiles,
		"includedFiles": included,
		"skippedCount":  len(skipped),
		"errorCount":    len(errored),
	}
	return e.finishArchive(operationID, remotePath, ".zip", "application/zip", buf.Bytes(), totalFiles, skipped, errored, sum)
}

// readRemoteFileWithTimeout reads one file's full contents, aborting if it
// takes longer than timeout (spec §4.7: "per-file read timeouts (30 s) mark
// entries as errorFiles").
func (e *Engine) readRemoteFileWithTimeout(client *sftp.Client, remotePath string, timeout time.Duration) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	out := make(chan result, 1)
	go func() {
		f, err := client.Open(remotePath)
		if err != nil {
			out <- result{err: err}
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		out <- result{data: data, err: err}
	}()

	select {
	case r := <-out:
		return r.data, r.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("read %s: timed out after %s", remotePath, timeout)
	}
}

// finishArchive emits the SFTP_FOLDER_DATA success frame. extra, if
// present, carries the ZIP fallback's {totalFiles, includedFiles,
// skippedCount, errorCount} summary; the tar path passes nil.
func (e *Engine) finishArchive(operationID, remotePath, suffix, mime string, data []byte, fileCount int, skipped, errored []string, extra ...map[string]any) error {
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	filename := path.Base(strings.TrimSuffix(remotePath, "/")) + suffix
	if filename == suffix {
		filename = "archive" + suffix
	}

	var s summary
	if len(extra) > 0 {
		ex := extra[0]
		if v, ok := ex["totalFiles"].(int); ok {
			s.TotalFiles = v
		}
		if v, ok := ex["includedFiles"].(int); ok {
			s.IncludedFiles = v
		}
		if v, ok := ex["skippedCount"].(int); ok {
			s.SkippedCount = v
		}
		if v, ok := ex["errorCount"].(int); ok {
			s.ErrorCount = v
		}
	}

	hdr := folderDataHeader{
		SessionID:    e.session.ID,
		OperationID:  operationID,
		Filename:     filename,
		MimeType:     mime,
		Size:         int64(len(data)),
		Checksum:     checksum,
		FileCount:    fileCount,
		SkippedFiles: nonNil(skipped),
		ErrorFiles:   nonNil(errored),
		Summary:      s,
	}
	telemetry.SFTPTransfer(e.session.ID, "downloadFolder", remotePath, int64(len(data)), 0, nil)
	return e.writer.WriteFrame(protocol.TypeSFTPFolderData, hdr, data)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// skipByName implements the ZIP fallback's fixed name blocklist (spec
// §4.7): exact-name matches plus the *.tmp/*.temp glob entries.
func skipByName(name string) bool {
	if skipBlocklist[name] {
		return true
	}
	for _, suf := range skipGlobSuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}
