package transaction

import (
	"strconv"
)

const (
	headerUseCompression  = "x-nifi-site-to-site-use-compression"
	headerRequestExpire   = "x-nifi-site-to-site-request-expiration"
	headerBatchCount      = "x-nifi-site-to-site-batch-count"
	headerBatchSize       = "x-nifi-site-to-site-batch-size"
	headerBatchDuration   = "x-nifi-site-to-site-batch-duration"
	headerLocationIntent  = "x-location-uri-intent"
	valueLocationIntent   = "transaction-url"
	headerServerTTL       = "x-nifi-site-to-site-server-transaction-ttl"
)

// handshakeParams mirrors the five optional S2S handshake properties.
// Zero-valued fields are omitted from the outbound header set, matching
// the "included only when present/positive" rule.
type handshakeParams struct {
	UseCompression          bool
	RequestExpirationMillis int64
	BatchCount              int
	BatchSizeBytes          int64
	BatchDurationMillis     int64
}

// buildHandshakeHeaders translates the present fields of p into their S2S
// header names. A zero-valued field is simply skipped, matching the "only
// when present/positive" handshake rule.
func buildHandshakeHeaders(p handshakeParams) map[string]string {
	headers := make(map[string]string, 5)
	if p.UseCompression {
		headers[headerUseCompression] = strconv.FormatBool(p.UseCompression)
	}
	if p.RequestExpirationMillis > 0 {
		headers[headerRequestExpire] = strconv.FormatInt(p.RequestExpirationMillis, 10)
	}
	if p.BatchCount > 0 {
		headers[headerBatchCount] = strconv.Itoa(p.BatchCount)
	}
	if p.BatchSizeBytes > 0 {
		headers[headerBatchSize] = strconv.FormatInt(p.BatchSizeBytes, 10)
	}
	if p.BatchDurationMillis > 0 {
		headers[headerBatchDuration] = strconv.FormatInt(p.BatchDurationMillis, 10)
	}
	return headers
}
