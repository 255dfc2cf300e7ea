// Package blob defines the Blob value type shared by the storage
// façade, the archive layer, and their callers. Unlike the teacher's
// content-hash-addressed Blob (keyed by a cryptographic Ref), blobs here
// are addressed by an opaque string path, matching this system's
// path-keyed object model.
package blob

import "time"

// Blob is an opaque byte payload plus the metadata the storage façade
// tracks about it. Content is always the decompressed payload; callers
// never see compressed bytes through this type.
type Blob struct {
	Path        string
	MIME        string
	DateUpdated time.Time
	Content     []byte
}

// Size returns the length of the decompressed content.
func (b Blob) Size() int64 { return int64(len(b.Content)) }
