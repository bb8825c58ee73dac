package codec

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// DecodedPacket is the plain-data result of decoding one framed packet,
// used by reference decoders and tests, not by the production send path
// (which streams directly to the wire and never decodes its own output).
type DecodedPacket struct {
	Attributes map[string]string
	Payload    []byte
}

// Reader decodes frames written by Writer. It is a test/reference
// decoder: the production client never reads back its own frames.
type Reader struct {
	src io.Reader
}

// NewReader wraps src, which must yield exactly the bytes a Writer wrote.
func NewReader(src io.Reader) *Reader { return &Reader{src: src} }

// ReadPacket decodes the next framed packet, or returns io.EOF if src is
// exhausted at a frame boundary.
func (r *Reader) ReadPacket() (*DecodedPacket, error) {
	attrCount, err := r.readUint32()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "read attr count")
	}

	attrs := make(map[string]string, attrCount)
	for i := uint32(0); i < attrCount; i++ {
		k, err := r.readString()
		if err != nil {
			return nil, errors.Wrap(err, "read attr key")
		}
		v, err := r.readString()
		if err != nil {
			return nil, errors.Wrap(err, "read attr value")
		}
		attrs[k] = v
	}

	size, err := r.readUint64()
	if err != nil {
		return nil, errors.Wrap(err, "read payload size")
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r.src, payload); err != nil {
		return nil, errors.Wrap(err, "read payload")
	}

	return &DecodedPacket{Attributes: attrs, Payload: payload}, nil
}

func (r *Reader) readUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.src, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (r *Reader) readUint64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r.src, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func (r *Reader) readString() (string, error) {
	n, err := r.readUint32()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.src, b); err != nil {
		return "", err
	}
	return string(b), nil
}
