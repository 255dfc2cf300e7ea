package archive

import (
	"mime"
	"path/filepath"
	"strings"
)

// textRefinements mirrors package blobstore's extension table; kept
// as a small local copy because blobstore's detectMIME is unexported,
// and this is the only other place that needs to label a packed
// file's MIME type.
var textRefinements = map[string]string{
	".md":   "text/markdown",
	".rs":   "text/rust",
	".toml": "text/toml",
	".js":   "application/javascript",
	".svg":  "image/svg+xml",
}

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
