package drain

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0needt0/goodies/s2s-edge-client/callback"
	"github.com/n0needt0/goodies/s2s-edge-client/packet"
	"github.com/n0needt0/goodies/s2s-edge-client/peer"
	"github.com/n0needt0/goodies/s2s-edge-client/queue"
	"github.com/n0needt0/goodies/s2s-edge-client/transaction"
)

type fakeCluster struct {
	mu          sync.Mutex
	txnCount    int
	badCRC      bool
	srv         *httptest.Server
}

func newFakeCluster(t *testing.T) *fakeCluster {
	fc := &fakeCluster{}
	mux := http.NewServeMux()

	mux.HandleFunc("/nifi-api/site-to-site/peers", func(w http.ResponseWriter, r *http.Request) {
		u, _ := url.Parse(fc.srv.URL)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `[{"hostname":%q,"port":%s,"secure":false,"flowFileCount":0}]`, u.Hostname(), u.Port())
	})

	mux.HandleFunc("/nifi-api/data-transfer/input-ports/port1/transactions", func(w http.ResponseWriter, r *http.Request) {
		fc.mu.Lock()
		fc.txnCount++
		id := fc.txnCount
		fc.mu.Unlock()
		w.Header().Set("x-location-uri-intent", "transaction-url")
		w.Header().Set("Location", fmt.Sprintf("/nifi-api/data-transfer/input-ports/port1/transactions/txn-%d", id))
		w.Header().Set("x-nifi-site-to-site-server-transaction-ttl", "30")
		w.WriteHeader(http.StatusCreated)
	})

	for i := 1; i <= 64; i++ {
		path := fmt.Sprintf("/data-transfer/input-ports/port1/transactions/txn-%d/flow-files", i)
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			crc := crc32.ChecksumIEEE(body)
			fc.mu.Lock()
			if fc.badCRC {
				crc++
			}
			fc.mu.Unlock()
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, "%d", crc)
		})
		endPath := fmt.Sprintf("/data-transfer/input-ports/port1/transactions/txn-%d", i)
		mux.HandleFunc(endPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"responseCode":12}`))
		})
	}

	fc.srv = httptest.NewServer(mux)
	return fc
}

func newTestEngine(t *testing.T, fc *fakeCluster) *transaction.Engine {
	m, err := peer.NewManager(context.Background(), peer.Config{
		SeedURLs: []string{fc.srv.URL},
		Timeout:  2 * time.Second,
	})
	require.NoError(t, err)
	return transaction.NewEngine(m, transaction.Config{PortID: "port1", Timeout: 2 * time.Second})
}

func newTestQueue(t *testing.T) *queue.Queue {
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := queue.Open(path, queue.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestEmptyDrainInvokesCallbackOnceWithNoError(t *testing.T) {
	fc := newFakeCluster(t)
	defer fc.srv.Close()

	q := newTestQueue(t)
	engine := newTestEngine(t, fc)

	var calls int
	var lastErr error
	sink := callback.Funcs{QueuedResult: func(err error) { calls++; lastErr = err }}

	w := &Worker{
		Queue:               q,
		Engine:              engine,
		Callback:            sink,
		PreferredBatchCount: 100,
		PreferredBatchSize:  1 << 20,
		MaxTransactionTime:  time.Second,
	}
	w.Run(context.Background())

	assert.Equal(t, 1, calls)
	assert.NoError(t, lastErr)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Zero(t, fc.txnCount, "an empty queue must not open any transaction")
}

func TestSinglePacketDrainCommitsQueueAndCallsBackOnce(t *testing.T) {
	fc := newFakeCluster(t)
	defer fc.srv.Close()

	q := newTestQueue(t)
	require.NoError(t, q.Enqueue([]packet.DataPacket{
		packet.NewBytes(map[string]string{"id": "testId"}, []byte("testPayload")),
	}))
	engine := newTestEngine(t, fc)

	var calls int
	var lastErr error
	sink := callback.Funcs{QueuedResult: func(err error) { calls++; lastErr = err }}

	w := &Worker{
		Queue:               q,
		Engine:              engine,
		Callback:            sink,
		PreferredBatchCount: 100,
		PreferredBatchSize:  1 << 20,
		MaxTransactionTime:  5 * time.Second,
	}
	w.Run(context.Background())

	assert.Equal(t, 1, calls)
	assert.NoError(t, lastErr)

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Count)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Equal(t, 1, fc.txnCount)
}

func TestThousandPacketDrainOpensTenTransactions(t *testing.T) {
	fc := newFakeCluster(t)
	defer fc.srv.Close()

	q := newTestQueue(t)
	var packets []packet.DataPacket
	for i := 0; i < 1000; i++ {
		packets = append(packets, packet.NewBytes(
			map[string]string{"id": fmt.Sprintf("testId%d", i)},
			[]byte(fmt.Sprintf("testPayload%d", i)),
		))
	}
	require.NoError(t, q.Enqueue(packets))
	engine := newTestEngine(t, fc)

	var calls int
	sink := callback.Funcs{QueuedResult: func(err error) { calls++; require.NoError(t, err) }}

	w := &Worker{
		Queue:               q,
		Engine:              engine,
		Callback:            sink,
		PreferredBatchCount: 100,
		PreferredBatchSize:  1 << 30,
		MaxTransactionTime:  30 * time.Second,
	}
	w.Run(context.Background())

	assert.Equal(t, 1, calls)
	fc.mu.Lock()
	assert.Equal(t, 10, fc.txnCount)
	fc.mu.Unlock()

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
}

func TestChecksumMismatchRollsBackQueue(t *testing.T) {
	fc := newFakeCluster(t)
	fc.badCRC = true
	defer fc.srv.Close()

	q := newTestQueue(t)
	require.NoError(t, q.Enqueue([]packet.DataPacket{
		packet.NewBytes(map[string]string{"id": "testId"}, []byte("testPayload")),
	}))
	engine := newTestEngine(t, fc)

	var lastErr error
	sink := callback.Funcs{QueuedResult: func(err error) { lastErr = err }}

	w := &Worker{
		Queue:               q,
		Engine:              engine,
		Callback:            sink,
		PreferredBatchCount: 100,
		PreferredBatchSize:  1 << 20,
		MaxTransactionTime:  5 * time.Second,
	}
	w.Run(context.Background())

	require.Error(t, lastErr)

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count, "rolled-back row must still be present")
}
