package queue

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0needt0/goodies/s2s-edge-client/packet"
)

func openTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := Open(path, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func enqueueN(t *testing.T, q *Queue, n int) {
	t.Helper()
	var packets []packet.DataPacket
	for i := 0; i < n; i++ {
		packets = append(packets, packet.NewBytes(
			map[string]string{"id": fmt.Sprintf("testId%d", i)},
			[]byte(fmt.Sprintf("testPayload%d", i)),
		))
	}
	require.NoError(t, q.Enqueue(packets))
}

func TestGetNextBatchIsMostRecentFirst(t *testing.T) {
	q := openTestQueue(t, Config{})
	enqueueN(t, q, 5)

	batch, err := q.GetNextBatch(5, 1<<20, 0)
	require.NoError(t, err)
	require.Len(t, batch.Packets, 5)
	for i, p := range batch.Packets {
		assert.Equal(t, fmt.Sprintf("testId%d", 4-i), p.Attributes()["id"])
	}
}

func TestThousandPacketsBatchedByHundred(t *testing.T) {
	q := openTestQueue(t, Config{})
	enqueueN(t, q, 1000)

	var batches [][]string
	for {
		batch, err := q.GetNextBatch(100, 1<<30, 0)
		require.NoError(t, err)
		if len(batch.Packets) == 0 {
			break
		}
		var ids []string
		for _, p := range batch.Packets {
			ids = append(ids, p.Attributes()["id"])
		}
		batches = append(batches, ids)
		require.NoError(t, q.Commit(batch))
	}

	require.Len(t, batches, 10)
	assert.Equal(t, "testId999", batches[0][0])
	assert.Equal(t, "testId900", batches[0][99])
	assert.Equal(t, "testId0", batches[9][99])

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
}

func TestCheckedOutRowsAreExcludedUntilCommitOrRollback(t *testing.T) {
	q := openTestQueue(t, Config{})
	enqueueN(t, q, 3)

	first, err := q.GetNextBatch(3, 1<<20, 0)
	require.NoError(t, err)
	require.Len(t, first.Packets, 3)

	second, err := q.GetNextBatch(3, 1<<20, 0)
	require.NoError(t, err)
	assert.Empty(t, second.Packets, "checked-out rows must not be visible to a concurrent batch")

	require.NoError(t, q.Rollback(first))

	third, err := q.GetNextBatch(3, 1<<20, 0)
	require.NoError(t, err)
	assert.Len(t, third.Packets, 3, "rolled-back rows become visible again")
}

func TestGetNextBatchExcludesRowsOlderThanMaxAge(t *testing.T) {
	q := openTestQueue(t, Config{})
	enqueueN(t, q, 3)

	zero, err := q.GetNextBatch(3, 1<<20, 1)
	require.NoError(t, err)
	assert.Empty(t, zero.Packets, "every row is already older than a 1ms cutoff by the time the query runs")

	unbounded, err := q.GetNextBatch(3, 1<<20, 0)
	require.NoError(t, err)
	assert.Len(t, unbounded.Packets, 3, "maxAgeMillis=0 means unbounded")
}

func TestCommitDeletesRowsPermanently(t *testing.T) {
	q := openTestQueue(t, Config{})
	enqueueN(t, q, 2)

	batch, err := q.GetNextBatch(2, 1<<20, 0)
	require.NoError(t, err)
	require.NoError(t, q.Commit(batch))

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
}

func TestCleanupEvictsOldestFirstAndIsIdempotent(t *testing.T) {
	q := openTestQueue(t, Config{MaxRows: 250})
	enqueueN(t, q, 500)

	require.NoError(t, q.Cleanup())
	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 250, stats.Count)

	batch, err := q.GetNextBatch(1, 1<<20, 0)
	require.NoError(t, err)
	require.Len(t, batch.Packets, 1)
	assert.Equal(t, "testId499", batch.Packets[0].Attributes()["id"])
	require.NoError(t, q.Rollback(batch))

	// second cleanup call is a no-op
	require.NoError(t, q.Cleanup())
	stats2, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, stats.Count, stats2.Count)
}

func TestCleanupSkipsCheckedOutRows(t *testing.T) {
	q := openTestQueue(t, Config{MaxRows: 1})
	enqueueN(t, q, 3)

	batch, err := q.GetNextBatch(3, 1<<20, 0)
	require.NoError(t, err)

	require.NoError(t, q.Cleanup())
	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count, "checked-out rows survive cleanup even over the row cap")

	require.NoError(t, q.Commit(batch))
}

func TestOpenRollsBackStampedRowsFromPriorProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := Open(path, Config{})
	require.NoError(t, err)
	enqueueN(t, q, 2)

	batch, err := q.GetNextBatch(2, 1<<20, 0)
	require.NoError(t, err)
	require.Len(t, batch.Packets, 2)
	require.NoError(t, q.Close())

	reopened, err := Open(path, Config{})
	require.NoError(t, err)
	defer reopened.Close()

	next, err := reopened.GetNextBatch(2, 1<<20, 0)
	require.NoError(t, err)
	assert.Len(t, next.Packets, 2, "reopening must clear stale checkout stamps")
}
