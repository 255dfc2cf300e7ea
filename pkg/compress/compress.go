// Package compress implements the symmetric compress/decompress codec
// that the blob store and archive layer use to shrink what they write.
// Every blob carries the algorithm it was compressed with as metadata;
// decompression is never guessed from content.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Algorithm identifies one of the supported compression codecs.
type Algorithm uint8

const (
	// None stores and returns bytes unchanged. It exists for blobs
	// whose byte offsets must stay addressable from outside the
	// codec — the archive layer's packed ZIP container is written
	// with None at the whole-blob level precisely so that the
	// byte-ranges recorded in its index still point at real offsets
	// in the stored object.
	None Algorithm = iota
	// Zstd is the default algorithm for newly written blobs: good
	// ratio, fast to decompress, and not required to round-trip
	// through a container format the way the archive's per-file
	// entries are.
	Zstd
	// Gzip is kept for compatibility with blobs written under an
	// older default and for callers that need a widely-understood
	// format (e.g. serving bytes straight to an HTTP client that
	// requested gzip).
	Gzip
	// Bzip2 is mandatory: the archive layer compresses every
	// packed file with Bzip2 inside the ZIP container (see
	// package archive), and the standard library can only read
	// bzip2, not write it, so this algorithm always goes through
	// the third-party codec below.
	Bzip2
)

// Default is the algorithm store_one and store_all use when the caller
// doesn't ask for a specific one.
const Default = Zstd

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case Gzip:
		return "gzip"
	case Bzip2:
		return "bzip2"
	default:
		return "unknown"
	}
}

// Parse turns a stored algorithm tag back into an Algorithm.
func Parse(s string) (Algorithm, error) {
	switch s {
	case "none":
		return None, nil
	case "zstd":
		return Zstd, nil
	case "gzip":
		return Gzip, nil
	case "bzip2":
		return Bzip2, nil
	default:
		return 0, fmt.Errorf("compress: unknown algorithm tag %q", s)
	}
}

// TooLargeError is returned by Decompress when the inflated payload
// would exceed the caller's max_size. It is a security contract: the
// limit is enforced while streaming, so an attacker-controlled blob
// can never force the full decompressed payload to be materialized.
type TooLargeError struct {
	MaxSize int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("compress: decompressed payload exceeds max size of %d bytes", e.MaxSize)
}

// Compress encodes data with alg.
func Compress(data []byte, alg Algorithm) ([]byte, error) {
	var buf bytes.Buffer
	switch alg {
	case None:
		buf.Write(data)
	case Zstd:
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case Gzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case Bzip2:
		w, err := bzip2.NewWriter(&buf, nil)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("compress: unsupported algorithm %v", alg)
	}
	return buf.Bytes(), nil
}

// Decompress decodes data that was encoded with alg, failing with
// *TooLargeError the instant more than maxSize bytes have come out of
// the decoder, without ever allocating or returning the full inflated
// payload.
func Decompress(data []byte, alg Algorithm, maxSize int64) ([]byte, error) {
	var r io.Reader
	switch alg {
	case None:
		r = bytes.NewReader(data)
	case Zstd:
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case Gzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		r = gr
	case Bzip2:
		br, err := bzip2.NewReader(bytes.NewReader(data), nil)
		if err != nil {
			return nil, err
		}
		defer br.Close()
		r = br
	default:
		return nil, fmt.Errorf("compress: unsupported algorithm %v", alg)
	}
	return readLimited(r, maxSize)
}

// readLimited drains r, erroring out the moment more than maxSize bytes
// have been produced instead of reading to EOF first and checking
// after the fact.
func readLimited(r io.Reader, maxSize int64) ([]byte, error) {
	limited := io.LimitReader(r, maxSize+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > maxSize {
		return nil, &TooLargeError{MaxSize: maxSize}
	}
	return buf, nil
}
