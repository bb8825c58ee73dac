// Package metrics bootstraps the global OTel meter provider and exposes
// the named instruments the drain and peer packages report against.
package metrics

import (
	"context"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Config configures the meter provider bootstrap.
type Config struct {
	ServiceName           string
	ServiceVersion        string
	Endpoint              string
	ScrapeInterval        time.Duration
}

// Init wires the OTel meter provider against an OTLP-over-gRPC collector
// and registers it as the global provider. The returned func flushes and
// shuts the provider down; callers defer it.
func Init(cfg Config) (func(), error) {
	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		log.Errorf("metrics: failed to build resource: %v", err)
	}

	exp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	)
	if err != nil {
		return nil, err
	}

	interval := cfg.ScrapeInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(provider)

	if err := registerInstruments(provider.Meter("s2s-edge-client")); err != nil {
		log.Errorf("metrics: failed to register instruments: %v", err)
	}

	return func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(cctx); err != nil {
			log.Errorf("metrics: shutdown failed: %v", err)
			otel.Handle(err)
		}
	}, nil
}

// Instruments holds every counter/gauge the client reports against.
// Populated by registerInstruments; nil until Init has run, in which
// case every recording function is a silent no-op.
var Instruments instruments

type instruments struct {
	batchesDrained      metric.Int64Counter
	bytesSent           metric.Int64Counter
	checksumMismatches  metric.Int64Counter
	peerRefreshFailures metric.Int64Counter
	queueDepthRows      metric.Int64ObservableGauge
	queueDepthProvider  func(ctx context.Context) (int64, error)
}

func registerInstruments(m metric.Meter) error {
	var err error

	Instruments.batchesDrained, err = m.Int64Counter("s2s.batches_drained",
		metric.WithDescription("Number of batches successfully committed to the remote cluster"))
	if err != nil {
		return err
	}

	Instruments.bytesSent, err = m.Int64Counter("s2s.bytes_sent",
		metric.WithDescription("Total flow file payload bytes sent (pre-compression)"))
	if err != nil {
		return err
	}

	Instruments.checksumMismatches, err = m.Int64Counter("s2s.checksum_mismatches",
		metric.WithDescription("Number of transactions ended with BAD_CHECKSUM"))
	if err != nil {
		return err
	}

	Instruments.peerRefreshFailures, err = m.Int64Counter("s2s.peer_refresh_failures",
		metric.WithDescription("Number of failed attempts to refresh the peer list"))
	if err != nil {
		return err
	}

	Instruments.queueDepthRows, err = m.Int64ObservableGauge("s2s.queue_depth_rows",
		metric.WithDescription("Current number of rows retained in the durable queue"))
	if err != nil {
		return err
	}

	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		if Instruments.queueDepthProvider == nil {
			return nil
		}
		depth, err := Instruments.queueDepthProvider(ctx)
		if err != nil {
			return err
		}
		o.ObserveInt64(Instruments.queueDepthRows, depth)
		return nil
	}, Instruments.queueDepthRows)
	return err
}

// SetQueueDepthProvider registers the function polled to report
// s2s.queue_depth_rows on each collection cycle. Typically wired to a
// queue.Queue's Stats method.
func SetQueueDepthProvider(f func(ctx context.Context) (int64, error)) {
	Instruments.queueDepthProvider = f
}

// RecordBatchDrained increments the batches-drained and bytes-sent
// counters. Safe to call before Init: the underlying instruments are
// nil and the call is a no-op.
func RecordBatchDrained(ctx context.Context, bytesSent int64) {
	if Instruments.batchesDrained != nil {
		Instruments.batchesDrained.Add(ctx, 1)
	}
	if Instruments.bytesSent != nil {
		Instruments.bytesSent.Add(ctx, bytesSent)
	}
}

// RecordChecksumMismatch increments s2s.checksum_mismatches.
func RecordChecksumMismatch(ctx context.Context) {
	if Instruments.checksumMismatches != nil {
		Instruments.checksumMismatches.Add(ctx, 1)
	}
}

// RecordPeerRefreshFailure increments s2s.peer_refresh_failures.
func RecordPeerRefreshFailure(ctx context.Context) {
	if Instruments.peerRefreshFailures != nil {
		Instruments.peerRefreshFailures.Add(ctx, 1)
	}
}
