// Package drain implements the batched drain loop: pulling batches from
// the durable queue, opening one transaction per batch, streaming,
// confirming, and committing, until the queue is empty or the
// transaction-time deadline is reached. It also implements the direct
// (non-queued) send path.
package drain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/s2s-edge-client/alert"
	"github.com/n0needt0/goodies/s2s-edge-client/callback"
	"github.com/n0needt0/goodies/s2s-edge-client/clienterrors"
	"github.com/n0needt0/goodies/s2s-edge-client/metrics"
	"github.com/n0needt0/goodies/s2s-edge-client/packet"
	"github.com/n0needt0/goodies/s2s-edge-client/queue"
	"github.com/n0needt0/goodies/s2s-edge-client/transaction"
)

// Worker drives drains of a durable queue against a transaction engine.
type Worker struct {
	Queue                  *queue.Queue
	Engine                 *transaction.Engine
	Callback               callback.Sink
	Alerts                 alert.Notifier
	PreferredBatchCount    int
	PreferredBatchSize     int64
	MaxBatchAge            time.Duration
	MaxTransactionTime     time.Duration
}

// Run executes one drain: repeatedly pulling batches until the queue is
// empty or the deadline (now + MaxTransactionTime) is exceeded. It
// invokes w.Callback.OnQueuedOperationResult exactly once.
func (w *Worker) Run(ctx context.Context) {
	err := w.drain(ctx)
	if w.Callback != nil {
		w.Callback.OnQueuedOperationResult(err)
	}
	if err != nil && w.Alerts != nil {
		if nerr := w.Alerts.Notify(ctx, alert.SeverityWarning, "drain failed", "queued drain aborted", err.Error()); nerr != nil {
			log.Warnf("drain: failed to send alert: %v", nerr)
		}
	}
}

func (w *Worker) drain(ctx context.Context) error {
	deadline := time.Now().Add(w.MaxTransactionTime)
	drainID := uuid.NewString()

	for {
		if time.Now().After(deadline) {
			log.Debugf("drain %s: deadline reached, stopping between batches", drainID)
			return nil
		}

		batch, err := w.Queue.GetNextBatch(w.PreferredBatchCount, w.PreferredBatchSize, w.MaxBatchAge.Milliseconds())
		if err != nil {
			return err
		}
		if len(batch.Packets) == 0 {
			return nil
		}

		if err := w.drainOneBatch(ctx, batch); err != nil {
			return err
		}
	}
}

func (w *Worker) drainOneBatch(ctx context.Context, batch *queue.BatchHandle) error {
	txn, err := w.Engine.Begin(ctx)
	if err != nil {
		if rerr := w.Queue.Rollback(batch); rerr != nil {
			log.Warnf("drain: rollback after begin failure also failed: %v", rerr)
		}
		return err
	}

	for _, p := range batch.Packets {
		if err := txn.Send(p); err != nil {
			var dfe *clienterrors.DataFetchError
			if errors.As(err, &dfe) {
				log.Warnf("drain: skipping packet, data fetch failed: %v", err)
				continue
			}
			txn.Cancel(ctx)
			_ = w.Queue.Rollback(batch)
			return err
		}
	}

	if err := txn.Confirm(ctx); err != nil {
		txn.Cancel(ctx)
		_ = w.Queue.Rollback(batch)
		return err
	}

	if _, err := txn.Complete(ctx); err != nil {
		txn.Cancel(ctx)
		_ = w.Queue.Rollback(batch)
		return err
	}

	if err := w.Queue.Commit(batch); err != nil {
		return err
	}

	var bytesSent int64
	for _, p := range batch.Packets {
		bytesSent += p.Size()
	}
	metrics.RecordBatchDrained(ctx, bytesSent)
	return nil
}

// SendDirect streams packets straight through one transaction, bypassing
// the durable queue entirely: open, stream, confirm, commit. Used for
// synchronous sends that don't need durability.
func SendDirect(ctx context.Context, engine *transaction.Engine, sink callback.Sink, packets []packet.DataPacket) {
	result, err := sendDirect(ctx, engine, packets)
	if sink != nil {
		sink.OnTransactionResult(result, err)
	}
}

func sendDirect(ctx context.Context, engine *transaction.Engine, packets []packet.DataPacket) (*transaction.Result, error) {
	txn, err := engine.Begin(ctx)
	if err != nil {
		return nil, err
	}

	for _, p := range packets {
		if err := txn.Send(p); err != nil {
			var dfe *clienterrors.DataFetchError
			if errors.As(err, &dfe) {
				log.Warnf("send: skipping packet, data fetch failed: %v", err)
				continue
			}
			txn.Cancel(ctx)
			return nil, err
		}
	}

	if err := txn.Confirm(ctx); err != nil {
		return nil, err
	}
	return txn.Complete(ctx)
}
