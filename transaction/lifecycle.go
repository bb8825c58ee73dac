package transaction

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/s2s-edge-client/clienterrors"
	"github.com/n0needt0/goodies/s2s-edge-client/metrics"
	"github.com/n0needt0/goodies/s2s-edge-client/packet"
)

// Send frames one packet onto the transaction's flow-files stream. A
// DataFetchError from the packet's own GetData is returned unchanged so
// the drain worker can skip just this packet; any other failure fails
// the transaction.
func (t *Transaction) Send(p packet.DataPacket) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateSending {
		return &clienterrors.ProtocolError{Reason: "send called outside SENDING state"}
	}
	if err := t.codecWriter.WritePacket(p); err != nil {
		var dfe *clienterrors.DataFetchError
		if errors.As(err, &dfe) {
			return err
		}
		t.state = StateFailed
		return err
	}
	return nil
}

// startHeartbeat launches the TTL-extend goroutine. It is a closure over
// the peer base, transaction path and headers only — never over the
// Transaction itself — so it cannot prolong the transaction's lifetime,
// matching the redesign note about breaking the heartbeat/transaction
// cyclic reference.
func (t *Transaction) startHeartbeat(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	t.heartbeatCancel = cancel
	done := make(chan struct{})
	t.heartbeatDone = done

	url := t.peerBase + t.path
	headers := t.headers
	client := t.client
	interval := t.ttl / 2
	id := t.id

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sendHeartbeat(ctx, client, url, headers); err != nil {
					log.Warnf("transaction %s: heartbeat failed: %v", id, err)
				}
			}
		}
	}()
}

func sendHeartbeat(ctx context.Context, client *http.Client, url string, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("heartbeat responseCode=%d", resp.StatusCode)
	}
	return nil
}

// stopHeartbeat cancels the heartbeat goroutine and waits for it to
// exit, tolerating context cancellation but nothing else (the goroutine
// itself never surfaces anything but a log line, so in practice this
// always just waits).
func (t *Transaction) stopHeartbeat() {
	if t.heartbeatCancel == nil {
		return
	}
	t.heartbeatCancel()
	<-t.heartbeatDone
}

// closeBody closes the flow-files pipe writer exactly once, unblocking
// openFlowFilesStream's goroutine and letting its HTTP request complete
// (or fail). Confirm and endTransaction both need this released on their
// way out, and endTransaction runs on the Cancel path too where Confirm
// was never called, so the close is idempotent via sync.Once rather than
// assuming one specific caller already did it.
func (t *Transaction) closeBody() error {
	var err error
	t.bodyCloseOnce.Do(func() {
		t.mu.Lock()
		w := t.bodyWriter
		t.mu.Unlock()
		if w != nil {
			err = w.Close()
		}
	})
	return err
}

// Confirm closes the frame codec (yielding the local CRC), reads the
// flow-files response body (an ASCII decimal CRC), and compares them. A
// mismatch ends the transaction with BAD_CHECKSUM and returns
// ChecksumMismatch; otherwise the transaction moves to CONFIRMED.
func (t *Transaction) Confirm(ctx context.Context) error {
	t.mu.Lock()
	localCRC := t.codecWriter.Close()
	t.mu.Unlock()
	if err := t.closeBody(); err != nil {
		return &clienterrors.TransportError{Op: "close flow-files stream", Err: err}
	}

	var sendErr error
	select {
	case sendErr = <-t.bodyDone:
	case <-ctx.Done():
		sendErr = ctx.Err()
	}
	if sendErr != nil {
		t.mu.Lock()
		t.state = StateFailed
		t.mu.Unlock()
		return sendErr
	}

	remoteCRC, err := strconv.ParseUint(strings.TrimSpace(t.flowFilesResponse), 10, 32)
	if err != nil {
		t.mu.Lock()
		t.state = StateFailed
		t.mu.Unlock()
		return &clienterrors.ProtocolError{Reason: "unparseable CRC in flow-files response: " + t.flowFilesResponse}
	}

	if uint32(remoteCRC) != localCRC {
		_, _ = t.endTransaction(ctx, ResponseCodeBadChecksum)
		t.mu.Lock()
		t.state = StateFailed
		t.mu.Unlock()
		metrics.RecordChecksumMismatch(ctx)
		return &clienterrors.ChecksumMismatch{Local: localCRC, Remote: uint32(remoteCRC)}
	}

	t.mu.Lock()
	t.state = StateConfirmed
	t.mu.Unlock()
	return nil
}

// Complete ends the transaction with CONFIRM_TRANSACTION and returns the
// server's TransactionResult. Must be called after a successful Confirm.
func (t *Transaction) Complete(ctx context.Context) (*Result, error) {
	t.mu.Lock()
	if t.state != StateConfirmed {
		t.mu.Unlock()
		return nil, &clienterrors.ProtocolError{Reason: "complete called outside CONFIRMED state"}
	}
	t.mu.Unlock()

	result, err := t.endTransaction(ctx, ResponseCodeConfirm)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.state = StateFailed
		return nil, err
	}
	t.state = StateCommitted
	return result, nil
}

// Cancel ends the transaction with CANCEL_TRANSACTION. Best-effort: used
// by the drain worker when any step of a batch fails.
func (t *Transaction) Cancel(ctx context.Context) {
	t.mu.Lock()
	if t.state == StateCommitted || t.state == StateCanceled {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	if _, err := t.endTransaction(ctx, ResponseCodeCancel); err != nil {
		log.Warnf("transaction %s: cancel failed: %v", t.id, err)
	}
	t.mu.Lock()
	t.state = StateCanceled
	t.mu.Unlock()
}

// endTransaction stops the heartbeat, releases the flow-files connection,
// and issues DELETE {transactionUrl}?responseCode={code}, parsing the
// response into a Result. Resources are released on every exit path.
func (t *Transaction) endTransaction(ctx context.Context, responseCode int) (*Result, error) {
	t.stopHeartbeat()
	if err := t.closeBody(); err != nil {
		log.Warnf("transaction %s: closing flow-files stream: %v", t.id, err)
	}

	url := t.peerBase + t.path + "?responseCode=" + strconv.Itoa(responseCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return nil, &clienterrors.TransportError{Op: "end transaction", Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &clienterrors.TransportError{Op: "end transaction", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &clienterrors.ProtocolError{Reason: "end-transaction responseCode=" + strconv.Itoa(resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &clienterrors.TransportError{Op: "read end-transaction body", Err: err}
	}
	if len(body) == 0 {
		return &Result{ResponseCode: responseCode}, nil
	}

	var result Result
	if err := sonic.Unmarshal(body, &result); err != nil {
		return nil, &clienterrors.ProtocolError{Reason: "unparseable TransactionResult body"}
	}
	return &result, nil
}
