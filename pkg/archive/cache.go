package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
)

// Cache stores decompressed indexes on local disk, keyed by a hash of
// the archive path, with atomic temp-file-then-rename writes — the
// same discipline the teacher's diskpacked/localdisk backends use.
type Cache struct {
	dir string
}

// NewCache prepares a local index cache rooted at dir.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) keyPath(archivePath string) string {
	sum := sha256.Sum256([]byte(archivePath))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".index")
}

// Load returns the cached, already-decompressed index bytes for
// archivePath, or (nil, false) if not yet cached.
func (c *Cache) Load(archivePath string) ([]byte, bool) {
	data, err := os.ReadFile(c.keyPath(archivePath))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Store writes data as the cached index for archivePath. Archive
// paths are immutable once written, so the cache never needs
// invalidation: Store is only ever called once per archivePath, on
// first miss.
func (c *Cache) Store(archivePath string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, "index-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, c.keyPath(archivePath))
}
