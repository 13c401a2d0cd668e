// Package observe provides the observability primitives for hotseat:
// OpenTelemetry metrics, tracing helpers, and the HTTP middleware that ties
// them together.
//
// Metrics are recorded through the OpenTelemetry metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so the ops listener can be
// scraped at /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all hotseat metrics.
const meterName = "hotseat"

// Metrics holds all OTel metric instruments for the session runtime. All
// fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	meter metric.Meter

	// --- Transcription counters ---

	// STTSegments counts final transcript segments accepted by the gate.
	STTSegments metric.Int64Counter

	// STTRejected counts segments dropped by the confidence gate.
	STTRejected metric.Int64Counter

	// STTReconnects counts streaming-transcription reconnect attempts.
	STTReconnects metric.Int64Counter

	// --- Session flow counters ---

	// QuestionsAsked counts delivered agent questions. Use with attribute:
	//   attribute.String("agent", ...)
	QuestionsAsked metric.Int64Counter

	// ExchangesResolved counts resolved exchanges. Use with attribute:
	//   attribute.String("outcome", ...)
	ExchangesResolved metric.Int64Counter

	// --- Provider failure counters ---

	// LLMFailures counts failed model calls (generation and assessment).
	LLMFailures metric.Int64Counter

	// TTSFailures counts failed synthesis calls.
	TTSFailures metric.Int64Counter

	// --- Latency histograms ---

	// LLMLatency tracks model call latency.
	LLMLatency metric.Float64Histogram

	// TTSLatency tracks synthesis latency.
	TTSLatency metric.Float64Histogram

	// QuestionGenLatency tracks the full generate-to-candidate time of one
	// question, TTS included.
	QuestionGenLatency metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Asynchronous instruments, fed through [Metrics.Observe] ---

	// QueueDepth observes the moderator's hand-raise queue size.
	QueueDepth metric.Int64ObservableGauge

	// SessionsActive observes the number of live sessions.
	SessionsActive metric.Int64ObservableGauge

	// BusPublished observes the event bus's accepted-publish counter.
	BusPublished metric.Int64ObservableCounter

	// BusDropped observes the event bus's dropped-delivery counter.
	BusDropped metric.Int64ObservableCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// model and synthesis calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Counters.
	if met.STTSegments, err = m.Int64Counter("stt.segments",
		metric.WithDescription("Final transcript segments accepted by the gate."),
	); err != nil {
		return nil, err
	}
	if met.STTRejected, err = m.Int64Counter("stt.rejected",
		metric.WithDescription("Transcript segments dropped by the confidence gate."),
	); err != nil {
		return nil, err
	}
	if met.STTReconnects, err = m.Int64Counter("stt.reconnects",
		metric.WithDescription("Streaming transcription reconnect attempts."),
	); err != nil {
		return nil, err
	}
	if met.QuestionsAsked, err = m.Int64Counter("questions.asked",
		metric.WithDescription("Agent questions delivered, by agent."),
	); err != nil {
		return nil, err
	}
	if met.ExchangesResolved, err = m.Int64Counter("exchanges.resolved",
		metric.WithDescription("Exchanges resolved, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.LLMFailures, err = m.Int64Counter("llm.failures",
		metric.WithDescription("Failed model calls."),
	); err != nil {
		return nil, err
	}
	if met.TTSFailures, err = m.Int64Counter("tts.failures",
		metric.WithDescription("Failed synthesis calls."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.LLMLatency, err = m.Float64Histogram("llm.latency",
		metric.WithDescription("Model call latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSLatency, err = m.Float64Histogram("tts.latency",
		metric.WithDescription("Synthesis latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QuestionGenLatency, err = m.Float64Histogram("question.gen.latency",
		metric.WithDescription("End-to-end question generation latency, audio included."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Asynchronous instruments.
	if met.QueueDepth, err = m.Int64ObservableGauge("queue.depth",
		metric.WithDescription("Pending hand raises in the moderator queue."),
	); err != nil {
		return nil, err
	}
	if met.SessionsActive, err = m.Int64ObservableGauge("sessions.active",
		metric.WithDescription("Live sessions."),
	); err != nil {
		return nil, err
	}
	if met.BusPublished, err = m.Int64ObservableCounter("bus.published",
		metric.WithDescription("Events accepted by the bus."),
	); err != nil {
		return nil, err
	}
	if met.BusDropped, err = m.Int64ObservableCounter("bus.dropped",
		metric.WithDescription("Per-subscriber deliveries lost to full queues."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Sources feeds the asynchronous instruments. Nil fields are skipped, so a
// caller can register only what it owns.
type Sources struct {
	QueueDepth     func() int64
	SessionsActive func() int64
	BusPublished   func() uint64
	BusDropped     func() uint64
}

// Observe registers src behind the asynchronous instruments and returns the
// unregister function.
func (m *Metrics) Observe(src Sources) (func() error, error) {
	reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if src.QueueDepth != nil {
			o.ObserveInt64(m.QueueDepth, src.QueueDepth())
		}
		if src.SessionsActive != nil {
			o.ObserveInt64(m.SessionsActive, src.SessionsActive())
		}
		if src.BusPublished != nil {
			o.ObserveInt64(m.BusPublished, int64(src.BusPublished()))
		}
		if src.BusDropped != nil {
			o.ObserveInt64(m.BusDropped, int64(src.BusDropped()))
		}
		return nil
	}, m.QueueDepth, m.SessionsActive, m.BusPublished, m.BusDropped)
	if err != nil {
		return nil, err
	}
	return reg.Unregister, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordQuestionAsked counts one delivered question for the agent.
func (m *Metrics) RecordQuestionAsked(ctx context.Context, agentID string) {
	m.QuestionsAsked.Add(ctx, 1,
		metric.WithAttributes(attribute.String("agent", agentID)),
	)
}

// RecordExchangeResolved counts one resolved exchange with its outcome.
func (m *Metrics) RecordExchangeResolved(ctx context.Context, outcome string) {
	m.ExchangesResolved.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordLLMCall records one model call: latency always, plus a failure
// increment when err is non-nil.
func (m *Metrics) RecordLLMCall(ctx context.Context, d time.Duration, err error) {
	m.LLMLatency.Record(ctx, d.Seconds())
	if err != nil {
		m.LLMFailures.Add(ctx, 1)
	}
}

// RecordTTSCall records one synthesis call: latency always, plus a failure
// increment when err is non-nil.
func (m *Metrics) RecordTTSCall(ctx context.Context, d time.Duration, err error) {
	m.TTSLatency.Record(ctx, d.Seconds())
	if err != nil {
		m.TTSFailures.Add(ctx, 1)
	}
}

// RecordQuestionGen records the end-to-end latency of producing one
// question candidate.
func (m *Metrics) RecordQuestionGen(ctx context.Context, d time.Duration) {
	m.QuestionGenLatency.Record(ctx, d.Seconds())
}
