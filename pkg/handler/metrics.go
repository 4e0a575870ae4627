package handler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics tracks webhook and dispatch activity
type Metrics struct {
	Requests       atomic.Int64
	Jobs           atomic.Int64
	Errors         atomic.Int64
	TotalLatencyNs atomic.Int64
}

func (m *Metrics) RecordRequest() { m.Requests.Add(1) }
func (m *Metrics) RecordJob()     { m.Jobs.Add(1) }
func (m *Metrics) RecordError()   { m.Errors.Add(1) }
func (m *Metrics) RecordLatency(d time.Duration) {
	m.TotalLatencyNs.Add(d.Nanoseconds())
}

var (
	otelMetricsOnce  sync.Once
	requestCounter   metric.Int64Counter
	errorCounter     metric.Int64Counter
	latencyHistogram metric.Float64Histogram
)

func initOTelMetrics() {
	otelMetricsOnce.Do(func() {
		meter := otel.Meter("taskbot/handler")

		var err error
		requestCounter, err = meter.Int64Counter(
			"taskbot.webhook.requests.total",
			metric.WithDescription("Total webhook requests handled"),
		)
		if err != nil {
			log.Printf("observability: failed to create request counter: %v", err)
		}

		errorCounter, err = meter.Int64Counter(
			"taskbot.webhook.errors.total",
			metric.WithDescription("Total webhook and dispatch errors"),
		)
		if err != nil {
			log.Printf("observability: failed to create error counter: %v", err)
		}

		latencyHistogram, err = meter.Float64Histogram(
			"taskbot.webhook.ack_time",
			metric.WithDescription("Webhook acknowledgment time (ms)"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			log.Printf("observability: failed to create latency histogram: %v", err)
		}
	})
}

func recordOTelMetrics(ctx context.Context, attrs []attribute.KeyValue, duration time.Duration, hadError bool) {
	initOTelMetrics()
	if requestCounter != nil {
		requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if latencyHistogram != nil {
		latencyHistogram.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	}
	if hadError && errorCounter != nil {
		errorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
