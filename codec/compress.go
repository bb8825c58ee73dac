package codec

import (
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

// DeflateWriter wraps an io.Writer with raw deflate compression. The
// frame Writer's CRC is computed over the uncompressed bytes it is given,
// so DeflateWriter sits strictly downstream: construct the flow-files
// request body writer as NewDeflateWriter(httpBody), then NewWriter(that).
type DeflateWriter struct {
	fw *flate.Writer
}

// NewDeflateWriter builds a deflate-compressing writer at the default
// compression level, matching the teacher's gzip-before-upload shape but
// using raw deflate per the S2S wire contract.
func NewDeflateWriter(dst io.Writer) (*DeflateWriter, error) {
	fw, err := flate.NewWriter(dst, flate.DefaultCompression)
	if err != nil {
		return nil, errors.Wrap(err, "create deflate writer")
	}
	return &DeflateWriter{fw: fw}, nil
}

func (d *DeflateWriter) Write(p []byte) (int, error) { return d.fw.Write(p) }

// Close flushes and closes the underlying deflate stream. It does not
// close dst; callers own dst's lifecycle (it is the HTTP request body).
func (d *DeflateWriter) Close() error { return d.fw.Close() }

// NewDeflateReader wraps src with raw deflate decompression, used by
// reference decoders/tests to undo NewDeflateWriter's compression.
func NewDeflateReader(src io.Reader) io.ReadCloser { return flate.NewReader(src) }
