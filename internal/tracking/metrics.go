// Package tracking records OpenTelemetry metrics for API requests and job polling.
// Instruments are created lazily from the global MeterProvider, so nothing is
// exported unless the application installs one.
package tracking

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "mammoth-go/client"

	metricRequestDuration = "mammoth.client.request.duration" // Histogram in seconds
	metricRequestRetries  = "mammoth.client.request.retries"  // Counter
	metricJobPolls        = "mammoth.jobs.polls"              // Counter, one per status fetch
	metricJobOutcomes     = "mammoth.jobs.outcomes"           // Counter, one per finished wait

	attrMethod     = "http.request.method"
	attrStatusCode = "http.response.status_code"
	attrErrorType  = "error.type"
	attrWaitMode   = "mammoth.jobs.wait_mode"
	attrOutcome    = "mammoth.jobs.outcome"
)

// Wait modes.
const (
	ModeSingle = "single"
	ModeBatch  = "batch"
)

// Wait outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
	OutcomeAborted = "aborted"
)

var (
	meterOnce   sync.Once
	meterInitMu sync.Mutex
	meter       metric.Meter

	requestDuration metric.Float64Histogram
	requestRetries  metric.Int64Counter
	jobPolls        metric.Int64Counter
	jobOutcomes     metric.Int64Counter
)

func logMetricError(name string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize metric %s: %v\n", name, err)
	}
}

func initMeter() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	if meter != nil {
		return
	}
	meter = otel.Meter(meterName)

	var err error
	requestDuration, err = meter.Float64Histogram(
		metricRequestDuration,
		metric.WithDescription("Duration of Mammoth API request attempts"),
		metric.WithUnit("s"),
	)
	logMetricError(metricRequestDuration, err)

	requestRetries, err = meter.Int64Counter(
		metricRequestRetries,
		metric.WithDescription("Number of request attempts retried after a transport failure"),
		metric.WithUnit("{retry}"),
	)
	logMetricError(metricRequestRetries, err)

	jobPolls, err = meter.Int64Counter(
		metricJobPolls,
		metric.WithDescription("Number of job status fetches"),
		metric.WithUnit("{poll}"),
	)
	logMetricError(metricJobPolls, err)

	jobOutcomes, err = meter.Int64Counter(
		metricJobOutcomes,
		metric.WithDescription("Number of finished job waits by outcome"),
		metric.WithUnit("{wait}"),
	)
	logMetricError(metricJobOutcomes, err)
}

func ensureMeter() {
	meterOnce.Do(initMeter)
}

// RecordRequest records one HTTP attempt. statusCode is 0 when no response
// was received; errorType is empty on success.
func RecordRequest(ctx context.Context, method string, statusCode int, duration time.Duration, errorType string) {
	ensureMeter()
	if requestDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String(attrMethod, method)}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int(attrStatusCode, statusCode))
	}
	if errorType != "" {
		attrs = append(attrs, attribute.String(attrErrorType, errorType))
	}
	requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRetry records that an attempt is about to be retried.
func RecordRetry(ctx context.Context, method string) {
	ensureMeter()
	if requestRetries != nil {
		requestRetries.Add(ctx, 1, metric.WithAttributes(attribute.String(attrMethod, method)))
	}
}

// RecordJobPoll records one status fetch made by a wait call.
func RecordJobPoll(ctx context.Context, mode string) {
	ensureMeter()
	if jobPolls != nil {
		jobPolls.Add(ctx, 1, metric.WithAttributes(attribute.String(attrWaitMode, mode)))
	}
}

// RecordJobOutcome records how a wait call ended.
func RecordJobOutcome(ctx context.Context, mode, outcome string) {
	ensureMeter()
	if jobOutcomes != nil {
		jobOutcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrWaitMode, mode),
			attribute.String(attrOutcome, outcome),
		))
	}
}

// ResetForTesting drops the cached instruments so a test MeterProvider takes effect.
// It is not safe with concurrent recording: call it before the code under test
// starts, never from a parallel test.
func ResetForTesting() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	meter = nil
	requestDuration = nil
	requestRetries = nil
	jobPolls = nil
	jobOutcomes = nil
	meterOnce = sync.Once{}
}
