// Package archive packs a directory tree of small files into a single
// ZIP-format blob plus a side index, so a reader can later fetch
// exactly the bytes of one packed file without downloading the whole
// archive. It depends on package blobstore for storage, not the other
// way around: blobstore has no archive-awareness of its own, which
// keeps the two packages free of an import cycle.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dsnet/compress/bzip2"

	"docsbuild.dev/docsbuild/pkg/blob"
	"docsbuild.dev/docsbuild/pkg/blobstore"
	"docsbuild.dev/docsbuild/pkg/compress"
)

// Only a Decompressor is registered: every entry is written via
// CreateRaw with bytes this package already compressed itself (see
// Pack), so archive/zip's own Compressor hook is never exercised on
// the write side. The Decompressor stays registered so any standard
// zip.Reader — ours or a third party's — can still open the method-12
// entries this package produces.
func init() {
	zip.RegisterDecompressor(bzip2Method, bzip2Decompressor)
}

// bzip2Method is the ZIP format's standard method number for BZIP2.
// archive/zip ships no Bzip2 support of its own, so this package
// registers the decompressor for it, and every file packed here uses
// this one method consistently.
const bzip2Method = 12

// Result summarizes a completed Pack call.
type Result struct {
	ArchivePath string
	IndexPath   string
	Index       *Index
}

// Pack walks dir and packs every regular file into a new ZIP archive
// at archivePath, each entry individually Bzip2-compressed, then
// writes the archive and its serialized, codec-compressed index to
// store.
func Pack(ctx context.Context, store *blobstore.Storage, archivePath, dir string) (*Result, error) {
	var zipBuf bytes.Buffer
	zw := zip.NewWriter(&zipBuf)

	idx := NewIndex()
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, rerr := os.ReadFile(p)
		if rerr != nil {
			if os.IsPermission(rerr) {
				return nil
			}
			return rerr
		}
		rel, rerr := filepath.Rel(dir, p)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)

		// Compress to a standalone buffer ourselves, rather than
		// through zip.Writer's streaming Compressor hook: the bzip2
		// writer only flushes its pending block on Close, and
		// archive/zip defers that Close until the *next*
		// CreateHeader/Close call, so measuring zipBuf.Len() right
		// after writing would capture an incomplete block. Compressing
		// up front lets us pass CreateRaw the final compressed size
		// and CRC32, so the local header carries them inline with no
		// trailing data descriptor — the entry's raw bytes land in
		// zipBuf exactly once, with an offset/length we can trust.
		var compressed bytes.Buffer
		bw, werr := bzip2.NewWriter(&compressed, nil)
		if werr != nil {
			return werr
		}
		if _, werr := bw.Write(data); werr != nil {
			return werr
		}
		if werr := bw.Close(); werr != nil {
			return werr
		}

		w, werr := zw.CreateRaw(&zip.FileHeader{
			Name:               rel,
			Method:             bzip2Method,
			CRC32:              crc32.ChecksumIEEE(data),
			CompressedSize64:   uint64(compressed.Len()),
			UncompressedSize64: uint64(len(data)),
		})
		if werr != nil {
			return werr
		}
		offset := int64(zipBuf.Len())
		if _, werr := w.Write(compressed.Bytes()); werr != nil {
			return werr
		}
		length := int64(zipBuf.Len()) - offset

		idx.Entries[rel] = Entry{
			Path:        rel,
			Offset:      offset,
			Length:      length,
			Compression: compress.Bzip2,
			MIME:        detectMIME(rel),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	serialized, err := idx.Serialize()
	if err != nil {
		return nil, fmt.Errorf("archive: serializing index: %w", err)
	}

	if err := store.StoreRaw(ctx, archivePath, zipBuf.Bytes()); err != nil {
		return nil, fmt.Errorf("archive: writing archive blob: %w", err)
	}
	indexPath := archivePath + ".index"
	if _, err := store.StoreOne(ctx, indexPath, serialized); err != nil {
		return nil, fmt.Errorf("archive: writing index blob: %w", err)
	}

	return &Result{ArchivePath: archivePath, IndexPath: indexPath, Index: idx}, nil
}

// maxIndexSize bounds how large a single archive index blob is
// allowed to be when fetched; an archive packing hundreds of
// thousands of files would still comfortably fit under this.
const maxIndexSize = 256 << 20

// loadIndex returns the index for archivePath, preferring the local
// cache and falling back to (then populating) the remote store.
func loadIndex(ctx context.Context, store *blobstore.Storage, cache *Cache, archivePath string) (*Index, error) {
	indexPath := archivePath + ".index"
	if cache != nil {
		if data, ok := cache.Load(archivePath); ok {
			return ParseIndex(data)
		}
	}
	b, err := store.Get(ctx, indexPath, maxIndexSize)
	if err != nil {
		return nil, fmt.Errorf("archive: fetching index %s: %w", indexPath, err)
	}
	if cache != nil {
		if err := cache.Store(archivePath, b.Content); err != nil {
			return nil, fmt.Errorf("archive: caching index %s: %w", indexPath, err)
		}
	}
	return ParseIndex(b.Content)
}

// ExistsInArchive reports whether file was packed into archivePath.
func ExistsInArchive(ctx context.Context, store *blobstore.Storage, cache *Cache, archivePath, file string) (bool, error) {
	idx, err := loadIndex(ctx, store, cache, archivePath)
	if err != nil {
		return false, err
	}
	_, ok := idx.Lookup(file)
	return ok, nil
}

// GetFromArchive fetches one packed file's decompressed bytes out of
// archivePath, using the index to issue a precise byte-range read
// against the archive blob instead of downloading the whole thing.
func GetFromArchive(ctx context.Context, store *blobstore.Storage, cache *Cache, archivePath, file string, maxSize int64) (blob.Blob, error) {
	idx, err := loadIndex(ctx, store, cache, archivePath)
	if err != nil {
		return blob.Blob{}, err
	}
	entry, ok := idx.Lookup(file)
	if !ok {
		return blob.Blob{}, blobstore.ErrNotFound
	}
	b, err := store.GetRange(ctx, archivePath, maxSize, blobstore.Range{
		Start: entry.Offset,
		End:   entry.Offset + entry.Length - 1,
	}, entry.Compression)
	if err != nil {
		return blob.Blob{}, err
	}
	b.Path = archivePath + "/" + file
	b.MIME = entry.MIME
	return b, nil
}

// bzip2Decompressor adapts dsnet/compress/bzip2's reader to the
// zip.Decompressor signature; archive/zip never surfaces a
// constructor error from this hook, so a failure here yields a reader
// that errors on first Read instead.
func bzip2Decompressor(r io.Reader) io.ReadCloser {
	br, err := bzip2.NewReader(r, nil)
	if err != nil {
		return io.NopCloser(errReader{err})
	}
	return br
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
