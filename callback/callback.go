// Package callback delivers the per-invocation result of a direct send or
// a queued drain back to the caller, exactly once per invocation.
package callback

import "github.com/n0needt0/goodies/s2s-edge-client/transaction"

// Sink is supplied by the caller. Parcelization across process
// boundaries, if any, is the caller's concern; this library only ever
// holds a plain in-process interface value.
type Sink interface {
	// OnTransactionResult is invoked once per direct (non-queued) send.
	OnTransactionResult(result *transaction.Result, err error)
	// OnQueuedOperationResult is invoked once per drain of the durable
	// queue.
	OnQueuedOperationResult(err error)
}

// Funcs adapts two plain functions to the Sink interface, the common
// case for callers that don't need a full type.
type Funcs struct {
	TransactionResult func(result *transaction.Result, err error)
	QueuedResult      func(err error)
}

func (f Funcs) OnTransactionResult(result *transaction.Result, err error) {
	if f.TransactionResult != nil {
		f.TransactionResult(result, err)
	}
}

func (f Funcs) OnQueuedOperationResult(err error) {
	if f.QueuedResult != nil {
		f.QueuedResult(err)
	}
}
