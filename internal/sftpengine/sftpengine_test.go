package sftpengine

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

// TestUploadBufferReassemblyOrder covers spec §8's "within one SFTP upload,
// reassembly reorders chunks by chunkIndex before commit": chunks arrive
// out of order, and assemble() must still produce the original byte
// sequence.
func TestUploadBufferReassemblyOrder(t *testing.T) {
	h := UploadHeader{OperationID: "op-1", TotalChunks: 3, FileSize: 9}
	buf := newUploadBuffer(h)

	buf.put(2, []byte("ghi"))
	buf.put(0, []byte("abc"))
	buf.put(1, []byte("def"))

	if !buf.complete() {
		t.Fatal("expected buffer to be complete after all 3 chunks")
	}
	if got := string(buf.assemble()); got != "abcdefghi" {
		t.Fatalf("assemble() = %q, want %q", got, "abcdefghi")
	}
}

func TestUploadBufferCompleteFalseUntilAllChunksReceived(t *testing.T) {
	h := UploadHeader{OperationID: "op-1", TotalChunks: 2, FileSize: 6}
	buf := newUploadBuffer(h)
	if buf.complete() {
		t.Fatal("expected incomplete buffer with zero chunks received")
	}
	buf.put(1, []byte("def"))
	if buf.complete() {
		t.Fatal("expected incomplete buffer with 1 of 2 chunks received")
	}
	buf.put(0, []byte("abc"))
	if !buf.complete() {
		t.Fatal("expected complete buffer with all chunks received")
	}
}

func TestUploadBufferPutSameIndexTwiceDoesNotDoubleCount(t *testing.T) {
	h := UploadHeader{OperationID: "op-1", TotalChunks: 2, FileSize: 6}
	buf := newUploadBuffer(h)
	buf.put(0, []byte("abc"))
	buf.put(0, []byte("xyz")) // re-delivery of the same chunk (e.g. client retry)
	if buf.received != 1 {
		t.Fatalf("received = %d, want 1", buf.received)
	}
}

func TestChecksumVerification(t *testing.T) {
	data := []byte("the quick brown fox")
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	if checksum == "" {
		t.Fatal("expected non-empty checksum")
	}

	tampered := append(bytes.Clone(data), 'x')
	tamperedSum := sha256.Sum256(tampered)
	if hex.EncodeToString(tamperedSum[:]) == checksum {
		t.Fatal("tampered data must not match original checksum")
	}
}

func TestRegistryCancelSuppressesLateFrames(t *testing.T) {
	r := newRegistry()
	torndown := false
	tr := r.start("op-1", "fileDownload")
	r.setCancel(tr, func() { torndown = true })

	if r.isCancelled("op-1") {
		t.Fatal("operation should not be cancelled before cancelOp is called")
	}

	if !r.cancelOp("op-1") {
		t.Fatal("cancelOp should report the operation was live")
	}
	if !torndown {
		t.Fatal("cancelOp should have invoked the teardown handle")
	}
	if !r.isCancelled("op-1") {
		t.Fatal("operation should be marked cancelled")
	}
}

func TestRegistryCancelUnknownOperationReturnsFalse(t *testing.T) {
	r := newRegistry()
	if r.cancelOp("never-started") {
		t.Fatal("cancelOp on an unknown operation should return false")
	}
}

func TestRegistryCloseAllTearsDownEverything(t *testing.T) {
	r := newRegistry()
	var torndown int
	for _, op := range []string{"op-1", "op-2", "op-3"} {
		tr := r.start(op, "upload")
		r.setCancel(tr, func() { torndown++ })
	}

	r.closeAll()

	if torndown != 3 {
		t.Fatalf("torndown = %d, want 3", torndown)
	}
	if len(r.byOp) != 0 {
		t.Fatalf("expected registry to be empty after closeAll, got %d entries", len(r.byOp))
	}
}

func TestRegistryFinishRemovesEntry(t *testing.T) {
	r := newRegistry()
	r.start("op-1", "upload")
	r.finish("op-1")
	if r.isCancelled("op-1") {
		t.Fatal("a finished operation should report not-cancelled (it's simply gone)")
	}
	if _, ok := r.byOp["op-1"]; ok {
		t.Fatal("finish should remove the entry")
	}
}

func TestSkipByNameBlocklist(t *testing.T) {
	cases := map[string]bool{
		"node_modules": true,
		".git":         true,
		".vscode":      true,
		"dist":         true,
		"build":        true,
		"coverage":     true,
		"report.tmp":   true,
		"cache.temp":   true,
		"main.go":      false,
		"README.md":    false,
	}
	for name, want := range cases {
		if got := skipByName(name); got != want {
			t.Errorf("skipByName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestMimeTypeFallsBackToOctetStream(t *testing.T) {
	if got := mimeType("photo.png"); got != "image/png" {
		t.Errorf("mimeType(photo.png) = %q, want image/png", got)
	}
	if got := mimeType("archive.tar.gz"); got != "application/gzip" {
		t.Errorf("mimeType(archive.tar.gz) = %q, want application/gzip", got)
	}
	if got := mimeType("noext"); got != "application/octet-stream" {
		t.Errorf("mimeType(noext) = %q, want application/octet-stream", got)
	}
	if got := mimeType(""); got != "application/octet-stream" {
		t.Errorf("mimeType(\"\") = %q, want application/octet-stream", got)
	}
}

func TestParseOctalMode(t *testing.T) {
	m, err := parseOctalMode("755")
	if err != nil {
		t.Fatalf("parseOctalMode(755) error: %v", err)
	}
	if m.Perm() != 0o755 {
		t.Fatalf("parseOctalMode(755) = %o, want 0755", m.Perm())
	}

	if _, err := parseOctalMode("not-octal"); err == nil {
		t.Fatal("parseOctalMode(not-octal) should fail")
	}
}

func TestMarshalFlatMergesFields(t *testing.T) {
	raw, err := marshalFlat(map[string]any{"sessionId": "s1", "operationId": "op1"}, map[string]any{"path": "/tmp"})
	if err != nil {
		t.Fatalf("marshalFlat error: %v", err)
	}
	s := string(raw)
	for _, want := range []string{`"sessionId":"s1"`, `"operationId":"op1"`, `"path":"/tmp"`} {
		if !bytes.Contains([]byte(s), []byte(want)) {
			t.Errorf("marshalFlat output %q missing %q", s, want)
		}
	}
}
