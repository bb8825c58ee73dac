// Package codec implements the Site-to-Site wire framing: a sequence of
// packets serialized as length-prefixed attribute pairs and a length-
// prefixed payload, with a running CRC32 over every byte written.
package codec

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/s2s-edge-client/clienterrors"
	"github.com/n0needt0/goodies/s2s-edge-client/packet"
)

// Writer frames packets onto an underlying io.Writer and maintains a
// running CRC32 over every byte written, including the framing bytes
// themselves. The CRC is always computed over the uncompressed bytes;
// callers needing compression wrap the destination writer with
// NewDeflateWriter and pass that to NewWriter instead.
type Writer struct {
	dst     io.Writer
	crc     uint32
	failed  bool
	scratch [8]byte
}

// NewWriter wraps dst (which may itself be a compressing writer).
func NewWriter(dst io.Writer) *Writer {
	return &Writer{dst: dst}
}

// WritePacket writes one framed packet: attribute count, each key/value
// length-prefixed pair (sorted by key for deterministic output), the
// payload size, and the payload bytes themselves.
func (w *Writer) WritePacket(p packet.DataPacket) error {
	if w.failed {
		return &clienterrors.TransportError{Op: "WritePacket", Err: errors.New("writer already failed")}
	}

	attrs := p.Attributes()
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	r, err := p.GetData()
	if err != nil {
		return err // DataFetchError, not a transport failure, bubbles as-is
	}
	defer r.Close()

	if err := w.writeUint32(uint32(len(keys))); err != nil {
		return w.fail("write attr count", err)
	}
	for _, k := range keys {
		if err := w.writeString(k); err != nil {
			return w.fail("write attr key", err)
		}
		if err := w.writeString(attrs[k]); err != nil {
			return w.fail("write attr value", err)
		}
	}

	if err := w.writeUint64(uint64(p.Size())); err != nil {
		return w.fail("write payload size", err)
	}

	buf := make([]byte, 32*1024)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := w.write(buf[:n]); werr != nil {
				return w.fail("write payload", werr)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return w.fail("read payload", rerr)
		}
	}
	return nil
}

// Close returns the final CRC32 over every byte written since creation.
func (w *Writer) Close() uint32 { return w.crc }

func (w *Writer) fail(op string, err error) error {
	w.failed = true
	return &clienterrors.TransportError{Op: op, Err: err}
}

func (w *Writer) write(b []byte) (int, error) {
	n, err := w.dst.Write(b)
	if n > 0 {
		w.crc = crc32.Update(w.crc, crc32.IEEETable, b[:n])
	}
	return n, err
}

func (w *Writer) writeUint32(v uint32) error {
	binary.BigEndian.PutUint32(w.scratch[:4], v)
	_, err := w.write(w.scratch[:4])
	return err
}

func (w *Writer) writeUint64(v uint64) error {
	binary.BigEndian.PutUint64(w.scratch[:8], v)
	_, err := w.write(w.scratch[:8])
	return err
}

func (w *Writer) writeString(s string) error {
	if err := w.writeUint32(uint32(len(s))); err != nil {
		return err
	}
	_, err := w.write([]byte(s))
	return err
}
