package blobstore

import (
	"mime"
	"path/filepath"
	"strings"
)

// textRefinements overrides Go's built-in extension table for types the
// build output and crate sources use heavily; mime.TypeByExtension
// either doesn't know them or maps them to something less specific.
var textRefinements = map[string]string{
	".md":   "text/markdown",
	".rs":   "text/rust",
	".toml": "text/toml",
	".js":   "application/javascript",
	".svg":  "image/svg+xml",
}

// detectMIME derives a MIME type for path from its file extension, the
// same source the teacher's storage layer uses (extension tables, not
// content sniffing) since build artifacts and crate sources arrive with
// reliable extensions. Unknown extensions fall back to text/plain.
func detectMIME(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "text/plain"
	}
	if m, ok := textRefinements[ext]; ok {
		return m
	}
	if m := mime.TypeByExtension(ext); m != "" {
		if i := strings.IndexByte(m, ';'); i >= 0 {
			m = m[:i]
		}
		return strings.TrimSpace(m)
	}
	return "text/plain"
}
