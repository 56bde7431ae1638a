// Package sftpengine implements the SFTP transfer engine (component G):
// directory listing and metadata operations, chunked checksummed upload,
// streamed single-file download, folder download (remote tar.gz preferred,
// in-gateway ZIP fallback), and a session-scoped cancellation registry.
//
// Grounded on internal/terminal/sftp.go's SFTPClient, which wraps
// github.com/pkg/sftp with the same one-subsystem-per-connection shape; this
// package adds the chunk reassembly, progress estimation, and cancellation
// semantics the spec's transfer model requires on top of it.
package sftpengine

import "time"

// Config holds the tunables named in spec §6's configuration table.
type Config struct {
	MaxUploadSize       int64         // MAX_UPLOAD_SIZE, per-file upload cap.
	MaxFileSize         int64         // MAX_FILE_SIZE, per-file inclusion cap in folder ZIP.
	MaxFolderSize       int64         // MAX_FOLDER_SIZE, folder download cap.
	CompressionLevel    int           // SFTP_COMPRESSION_LEVEL, 0..9 for ZIP fallback.
	ChunkSize           int           // SFTP_CHUNK_SIZE, advisory for clients; not enforced server-side.
	MetadataOpTimeout   time.Duration // list/mkdir/delete/rename/chmod.
	FileDownloadTimeout time.Duration // single-file download.
	FolderTimeout       time.Duration // SFTP_TRANSFER_TIMEOUT, folder download.
	FileReadTimeout     time.Duration // per-file read timeout inside ZIP fallback.
}

func DefaultConfig() Config {
	return Config{
		MaxUploadSize:       100 << 20,
		MaxFileSize:         100 << 20,
		MaxFolderSize:       500 << 20,
		CompressionLevel:    6,
		ChunkSize:           1 << 20,
		MetadataOpTimeout:   30 * time.Second,
		FileDownloadTimeout: 10 * time.Minute,
		FolderTimeout:       5 * time.Minute,
		FileReadTimeout:     30 * time.Second,
	}
}

// skipBlocklist is the fixed folder-ZIP-fallback name blocklist (spec §4.7).
var skipBlocklist = map[string]bool{
	"node_modules": true,
	".git":         true,
	".vscode":      true,
	".idea":        true,
	"dist":         true,
	"build":        true,
	"coverage":     true,
	".nyc_output":  true,
}

// skipGlobSuffixes covers the blocklist's glob entries (*.tmp, *.temp).
var skipGlobSuffixes = []string{".tmp", ".temp"}

// mimeByExt is the small fixed extension→MIME table spec §4.7 calls for.
var mimeByExt = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".json": "application/json",
	".xml":  "application/xml",
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".log":  "text/plain",
	".conf": "text/plain",
	".ini":  "text/plain",

	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".ico":  "image/x-icon",

	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",

	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",

	".zip":    "application/zip",
	".tar":    "application/x-tar",
	".gz":     "application/gzip",
	".tgz":    "application/gzip",
	".rar":    "application/vnd.rar",
	".7z":     "application/x-7z-compressed",
	".pdf":    "application/pdf",
}

func mimeType(name string) string {
	ext := extLower(name)
	if mt, ok := mimeByExt[ext]; ok {
		return mt
	}
	return "application/octet-stream"
}

func extLower(name string) string {
	i := len(name) - 1
	for ; i >= 0; i-- {
		if name[i] == '.' {
			break
		}
		if name[i] == '/' {
			return ""
		}
	}
	if i < 0 {
		return ""
	}
	ext := name[i:]
	out := make([]byte, len(ext))
	for j := 0; j < len(ext); j++ {
		c := ext[j]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[j] = c
	}
	return string(out)
}
