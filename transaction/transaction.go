// Package transaction drives the Site-to-Site per-transaction state
// machine: creation, packet streaming through the frame codec, the TTL
// heartbeat, CRC confirmation, and commit/cancel.
package transaction

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/s2s-edge-client/clienterrors"
	"github.com/n0needt0/goodies/s2s-edge-client/codec"
	"github.com/n0needt0/goodies/s2s-edge-client/peer"
)

// Response codes the client sends on DELETE {transactionUrl}. The full
// NiFi S2S response-code table reserves many more values; only the three
// this client ever emits are named here.
const (
	ResponseCodeConfirm     = 12
	ResponseCodeCancel      = 15
	ResponseCodeBadChecksum = 19
)

// State is a Transaction's position in the S2S lifecycle.
type State int

const (
	StateOpen State = iota
	StateSending
	StateConfirmed
	StateCommitted
	StateCanceled
	StateFailed
)

// Result is the structured body returned by DELETE {transactionUrl}.
type Result struct {
	ResponseCode  int    `json:"responseCode"`
	Message       string `json:"message"`
	FlowFilesSent int    `json:"flowFilesSent"`
	BytesSent     int64  `json:"bytesSent"`
	DurationMs    int64  `json:"duration"`
}

// Config configures the Engine that mints transactions.
type Config struct {
	PortID          string
	Timeout         time.Duration
	UseCompression  bool
	RequestExpiration time.Duration
	BatchCount      int
	BatchSizeBytes  int64
	BatchDuration   time.Duration
}

// Engine creates and drives Site-to-Site transactions against peers
// resolved by a peer.Manager.
type Engine struct {
	peers *peer.Manager
	cfg   Config
}

// NewEngine builds an Engine.
func NewEngine(peers *peer.Manager, cfg Config) *Engine {
	return &Engine{peers: peers, cfg: cfg}
}

func (e *Engine) handshakeHeaders() map[string]string {
	return buildHandshakeHeaders(handshakeParams{
		UseCompression:          e.cfg.UseCompression,
		RequestExpirationMillis: e.cfg.RequestExpiration.Milliseconds(),
		BatchCount:              e.cfg.BatchCount,
		BatchSizeBytes:          e.cfg.BatchSizeBytes,
		BatchDurationMillis:     e.cfg.BatchDuration.Milliseconds(),
	})
}

// Transaction is one in-flight S2S delivery unit.
type Transaction struct {
	id          string
	engine      *Engine
	peerBase    string
	path        string // transactionUrl, /nifi-api prefix already stripped
	ttl         time.Duration
	headers     map[string]string
	client      *http.Client

	mu          sync.Mutex
	state       State

	bodyWriter     io.WriteCloser
	bodyCloseOnce  sync.Once
	bodyDone       chan error
	codecWriter    *codec.Writer
	flowFilesResponse string

	heartbeatCancel context.CancelFunc
	heartbeatDone   chan struct{}
}

// stripNifiAPIPrefix removes only the first occurrence of "/nifi-api"
// from path, exactly matching the original client's behavior; if a
// deployment nests the prefix, later occurrences are left untouched.
func stripNifiAPIPrefix(path string) string {
	idx := strings.Index(path, "/nifi-api")
	if idx < 0 {
		return path
	}
	return path[:idx] + path[idx+len("/nifi-api"):]
}

// Begin creates a new transaction: POST to /data-transfer/input-ports/
// {portId}/transactions on a selected peer, validating the response
// contract and starting the TTL heartbeat.
func (e *Engine) Begin(ctx context.Context) (*Transaction, error) {
	headers := e.handshakeHeaders()

	p, err := e.peers.SelectPeer(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := e.postCreate(ctx, p, headers)
	if err != nil {
		// one retry against a refreshed peer list on connection failure
		if rerr := e.peers.RefreshPeers(ctx); rerr == nil {
			p, err = e.peers.SelectPeer(ctx)
			if err == nil {
				resp, err = e.postCreate(ctx, p, headers)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &clienterrors.ProtocolError{Reason: "responseCode=" + strconv.Itoa(resp.StatusCode)}
	}
	if resp.Header.Get(headerLocationIntent) != valueLocationIntent {
		return nil, &clienterrors.ProtocolError{Reason: "missing or invalid " + headerLocationIntent}
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, &clienterrors.ProtocolError{Reason: "missing Location header"}
	}
	ttlStr := resp.Header.Get(headerServerTTL)
	ttlSeconds, perr := strconv.Atoi(ttlStr)
	if perr != nil || ttlSeconds <= 0 {
		return nil, &clienterrors.ProtocolError{Reason: "missing or non-positive " + headerServerTTL}
	}

	txnPath := stripNifiAPIPrefix(location)

	t := &Transaction{
		id:       uuid.NewString(),
		engine:   e,
		peerBase: p.URL,
		path:     txnPath,
		ttl:      time.Duration(ttlSeconds) * time.Second,
		headers:  headers,
		client:   e.peers.Client(),
		state:    StateOpen,
	}

	if err := t.openFlowFilesStream(ctx); err != nil {
		return nil, err
	}
	t.startHeartbeat(ctx)

	return t, nil
}

func (e *Engine) postCreate(ctx context.Context, p peer.Peer, headers map[string]string) (*http.Response, error) {
	url := p.URL + "/nifi-api/data-transfer/input-ports/" + e.cfg.PortID + "/transactions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build create-transaction request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.peers.Client().Do(req)
	if err != nil {
		return nil, &clienterrors.TransportError{Op: "create transaction", Err: err}
	}
	return resp, nil
}

// openFlowFilesStream opens the streaming POST {transactionUrl}/flow-files
// request and wires the frame codec (optionally deflate-wrapped) to its
// request body via an io.Pipe, since net/http needs a Reader for a
// streaming request body while the codec wants a Writer.
func (t *Transaction) openFlowFilesStream(ctx context.Context) error {
	pr, pw := io.Pipe()
	t.bodyWriter = pw
	t.bodyDone = make(chan error, 1)

	var dst io.Writer = pw
	if t.engine.cfg.UseCompression {
		dw, err := codec.NewDeflateWriter(pw)
		if err != nil {
			return errors.Wrap(err, "build deflate writer")
		}
		dst = dw
		// wrap so Close() on bodyWriter also flushes+closes the deflate
		// stream before closing the pipe writer.
		t.bodyWriter = &deflateThenPipeCloser{DeflateWriter: dw, pw: pw}
	}
	t.codecWriter = codec.NewWriter(dst)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.peerBase+t.path+"/flow-files", pr)
	if err != nil {
		return errors.Wrap(err, "build flow-files request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "text/plain")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	go func() {
		resp, err := t.client.Do(req)
		if err != nil {
			t.bodyDone <- &clienterrors.TransportError{Op: "flow-files", Err: err}
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
			t.bodyDone <- &clienterrors.ProtocolError{Reason: "flow-files responseCode=" + strconv.Itoa(resp.StatusCode)}
			return
		}
		body, _ := io.ReadAll(resp.Body)
		t.flowFilesResponse = strings.TrimSpace(string(body))
		t.bodyDone <- nil
	}()

	t.state = StateSending
	return nil
}

type deflateThenPipeCloser struct {
	*codec.DeflateWriter
	pw *io.PipeWriter
}

func (d *deflateThenPipeCloser) Close() error {
	err := d.DeflateWriter.Close()
	if cerr := d.pw.Close(); err == nil {
		err = cerr
	}
	return err
}
