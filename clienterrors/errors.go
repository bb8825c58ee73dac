// Package clienterrors defines the error taxonomy surfaced by the s2s
// client: transport failures, protocol violations, checksum mismatches,
// per-packet data-fetch failures, and queue persistence failures.
package clienterrors

import "fmt"

// TransportError wraps a network or HTTP-level failure: a non-2xx response,
// a connect/read timeout, or any other IO failure talking to a peer.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError signals that a server response violated the S2S contract:
// a missing or unparseable header, a missing transaction URL, an
// unexpected response code.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol error: %s", e.Reason) }

// ChecksumMismatch signals that the CRC32 returned by the server after
// streaming a batch disagreed with the client's locally computed value.
type ChecksumMismatch struct {
	Local, Remote uint32
}

func (e *ChecksumMismatch) Error() string {
	return fmt.Sprintf("checksum mismatch: local=%d remote=%d", e.Local, e.Remote)
}

// DataFetchError signals that a single packet's data stream could not be
// opened (e.g. a file-backed packet whose file is gone). Non-fatal: the
// caller skips the packet and continues the batch.
type DataFetchError struct {
	Err error
}

func (e *DataFetchError) Error() string { return fmt.Sprintf("data fetch error: %v", e.Err) }
func (e *DataFetchError) Unwrap() error { return e.Err }

// QueueError wraps a durable-queue persistence failure. Fatal to the
// current drain.
type QueueError struct {
	Op  string
	Err error
}

func (e *QueueError) Error() string { return fmt.Sprintf("queue error during %s: %v", e.Op, e.Err) }
func (e *QueueError) Unwrap() error { return e.Err }
