package packet

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/n0needt0/goodies/s2s-edge-client/clienterrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesPacketRereadable(t *testing.T) {
	p := NewBytes(map[string]string{"id": "testId"}, []byte("testPayload"))
	assert.EqualValues(t, len("testPayload"), p.Size())

	for i := 0; i < 2; i++ {
		r, err := p.GetData()
		require.NoError(t, err)
		b, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "testPayload", string(b))
		require.NoError(t, r.Close())
	}
}

func TestEmptyPacket(t *testing.T) {
	p := NewEmpty(nil)
	assert.EqualValues(t, 0, p.Size())
	r, err := p.GetData()
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestFilePacketAttributesAndSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	p := NewFile(path, map[string]string{"custom": "x"})
	attrs := p.Attributes()
	assert.Equal(t, "sample.txt", attrs["filename"])
	assert.Equal(t, path, attrs["path"])
	assert.Equal(t, "x", attrs["custom"])
	assert.EqualValues(t, 5, p.Size())

	r, err := p.GetData()
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
	require.NoError(t, r.Close())
}

func TestFilePacketMissingFileIsDataFetchError(t *testing.T) {
	p := NewFile("/nonexistent/path/to/nowhere.txt", nil)
	_, err := p.GetData()
	require.Error(t, err)
	var dfe *clienterrors.DataFetchError
	assert.ErrorAs(t, err, &dfe)
}
