package archive

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"docsbuild.dev/docsbuild/pkg/compress"
)

// Entry describes one packed file: its byte range inside the ZIP
// container, the compression algorithm used for that one file (every
// file is packed with Bzip2 today, but the tag travels with the entry
// so a reader never has to assume), and its MIME type.
type Entry struct {
	Path        string
	Offset      int64
	Length      int64
	Compression compress.Algorithm
	MIME        string
}

// Index maps every packed file's path to its Entry. It is built once
// during Pack and serialized alongside the archive at
// "{archive_path}.index".
type Index struct {
	Entries map[string]Entry
}

// NewIndex returns an empty index ready for population during packing.
func NewIndex() *Index {
	return &Index{Entries: make(map[string]Entry)}
}

// Lookup reports whether path was packed, and its Entry if so.
func (i *Index) Lookup(path string) (Entry, bool) {
	e, ok := i.Entries[path]
	return e, ok
}

// Serialize produces a deterministic binary encoding of the index:
// a 4-byte entry count followed by, for each entry sorted by path,
// the path (length-prefixed), the offset and length (8 bytes each,
// big-endian), the compression tag (1 byte) and the mime
// (length-prefixed). Determinism matters because the serialized
// form is itself compressed and stored as a blob, and two packs of
// the same input must produce byte-identical index blobs.
func (i *Index) Serialize() ([]byte, error) {
	paths := make([]string, 0, len(i.Entries))
	for p := range i.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(paths))); err != nil {
		return nil, err
	}
	for _, p := range paths {
		e := i.Entries[p]
		if err := writeString(&buf, p); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, e.Offset); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, e.Length); err != nil {
			return nil, err
		}
		if err := buf.WriteByte(byte(e.Compression)); err != nil {
			return nil, err
		}
		if err := writeString(&buf, e.MIME); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// ParseIndex reverses Serialize.
func ParseIndex(data []byte) (*Index, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("archive: reading index entry count: %w", err)
	}
	idx := &Index{Entries: make(map[string]Entry, count)}
	for n := uint32(0); n < count; n++ {
		path, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("archive: reading entry %d path: %w", n, err)
		}
		var offset, length int64
		if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
			return nil, fmt.Errorf("archive: reading entry %d offset: %w", n, err)
		}
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("archive: reading entry %d length: %w", n, err)
		}
		algByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("archive: reading entry %d compression: %w", n, err)
		}
		mimeType, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("archive: reading entry %d mime: %w", n, err)
		}
		idx.Entries[path] = Entry{
			Path:        path,
			Offset:      offset,
			Length:      length,
			Compression: compress.Algorithm(algByte),
			MIME:        mimeType,
		}
	}
	return idx, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
