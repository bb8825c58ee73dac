// Package packet defines the uniform view over byte/file/empty payloads
// that the rest of the client streams to a NiFi-style cluster.
package packet

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/n0needt0/goodies/s2s-edge-client/clienterrors"
)

// DataPacket is a single unit of delivery: a string-to-string attribute map
// plus a byte payload. GetData must be callable more than once, each call
// returning a fresh stream positioned at the start.
type DataPacket interface {
	Attributes() map[string]string
	GetData() (io.ReadCloser, error)
	Size() int64
}

// Bytes is an in-memory packet; Size is fixed at construction.
type Bytes struct {
	attrs   map[string]string
	payload []byte
}

// NewBytes builds a packet backed by an in-memory payload. attrs may be
// nil; a defensive copy is not taken, callers should not mutate it after
// handing it to NewBytes.
func NewBytes(attrs map[string]string, payload []byte) *Bytes {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &Bytes{attrs: attrs, payload: payload}
}

func (p *Bytes) Attributes() map[string]string { return p.attrs }
func (p *Bytes) Size() int64                   { return int64(len(p.payload)) }

func (p *Bytes) GetData() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(p.payload)), nil
}

// File is a packet whose payload is produced lazily by opening a file.
// Attributes automatically include filename, path and absolute.path.
type File struct {
	path  string
	extra map[string]string
}

// NewFile builds a file-backed packet. extra attributes are merged with
// the standard filename/path/absolute.path triple; extra wins on conflict.
func NewFile(path string, extra map[string]string) *File {
	return &File{path: path, extra: extra}
}

func (p *File) Attributes() map[string]string {
	abs, err := filepath.Abs(p.path)
	if err != nil {
		abs = p.path
	}
	attrs := map[string]string{
		"filename":      filepath.Base(p.path),
		"path":          p.path,
		"absolute.path": abs,
	}
	for k, v := range p.extra {
		attrs[k] = v
	}
	return attrs
}

func (p *File) Size() int64 {
	fi, err := os.Stat(p.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (p *File) GetData() (io.ReadCloser, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, &clienterrors.DataFetchError{Err: err}
	}
	return f, nil
}

// Empty is a zero-length packet whose data stream yields EOF immediately.
type Empty struct {
	attrs map[string]string
}

// NewEmpty builds an empty packet carrying only attributes.
func NewEmpty(attrs map[string]string) *Empty {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &Empty{attrs: attrs}
}

func (p *Empty) Attributes() map[string]string   { return p.attrs }
func (p *Empty) Size() int64                     { return 0 }
func (p *Empty) GetData() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("")), nil }
