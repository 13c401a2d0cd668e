package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValueWith returns the data point value whose attributes contain
// key=value, or -1 when no such point exists.
func sumValueWith(sum metricdata.Sum[int64], key, value string) int64 {
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestCounterIncrement(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	counters := []struct {
		name string
		c    metric.Int64Counter
	}{
		{"stt.segments", m.STTSegments},
		{"stt.rejected", m.STTRejected},
		{"stt.reconnects", m.STTReconnects},
		{"llm.failures", m.LLMFailures},
		{"tts.failures", m.TTSFailures},
	}
	for _, tc := range counters {
		tc.c.Add(ctx, 1)
		tc.c.Add(ctx, 1)
	}

	rm := collect(t, reader)
	for _, tc := range counters {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != 2 {
				t.Errorf("counter value = %d, want 2", got)
			}
		})
	}
}

func TestQuestionsAskedCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordQuestionAsked(ctx, "skeptic")
	m.RecordQuestionAsked(ctx, "skeptic")
	m.RecordQuestionAsked(ctx, "analyst")

	rm := collect(t, reader)
	met := findMetric(rm, "questions.asked")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sumValueWith(sum, "agent", "skeptic"); got != 2 {
		t.Errorf("skeptic questions = %d, want 2", got)
	}
	if got := sumValueWith(sum, "agent", "analyst"); got != 1 {
		t.Errorf("analyst questions = %d, want 1", got)
	}
}

func TestExchangesResolvedCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordExchangeResolved(ctx, "SATISFIED")
	m.RecordExchangeResolved(ctx, "SATISFIED")
	m.RecordExchangeResolved(ctx, "TURN_LIMIT")

	rm := collect(t, reader)
	met := findMetric(rm, "exchanges.resolved")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sumValueWith(sum, "outcome", "SATISFIED"); got != 2 {
		t.Errorf("satisfied count = %d, want 2", got)
	}
	if got := sumValueWith(sum, "outcome", "TURN_LIMIT"); got != 1 {
		t.Errorf("turn-limit count = %d, want 1", got)
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"llm.latency", m.LLMLatency},
		{"tts.latency", m.TTSLatency},
		{"question.gen.latency", m.QuestionGenLatency},
		{"http.request.duration", m.HTTPRequestDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordCallHelpersCountFailures(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordLLMCall(ctx, 120*time.Millisecond, nil)
	m.RecordLLMCall(ctx, 80*time.Millisecond, errors.New("rate limited"))
	m.RecordTTSCall(ctx, 40*time.Millisecond, errors.New("voice missing"))

	rm := collect(t, reader)

	hist := findMetric(rm, "llm.latency")
	if hist == nil {
		t.Fatal("llm.latency not found")
	}
	if got := hist.Data.(metricdata.Histogram[float64]).DataPoints[0].Count; got != 2 {
		t.Errorf("llm latency samples = %d, want both calls recorded", got)
	}

	failures := findMetric(rm, "llm.failures")
	if failures == nil {
		t.Fatal("llm.failures not found")
	}
	if got := failures.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 1 {
		t.Errorf("llm failures = %d, want 1", got)
	}
	ttsFailures := findMetric(rm, "tts.failures")
	if ttsFailures == nil {
		t.Fatal("tts.failures not found")
	}
	if got := ttsFailures.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 1 {
		t.Errorf("tts failures = %d, want 1", got)
	}
}

func TestObserve_FeedsAsyncInstruments(t *testing.T) {
	m, reader := newTestMetrics(t)

	depth := int64(4)
	published := uint64(128)
	unregister, err := m.Observe(Sources{
		QueueDepth:     func() int64 { return depth },
		SessionsActive: func() int64 { return 2 },
		BusPublished:   func() uint64 { return published },
		BusDropped:     func() uint64 { return 3 },
	})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	defer func() { _ = unregister() }()

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"queue.depth", 4},
		{"sessions.active", 2},
	}
	for _, tc := range gauges {
		met := findMetric(rm, tc.name)
		if met == nil {
			t.Fatalf("metric %q not found", tc.name)
		}
		g, ok := met.Data.(metricdata.Gauge[int64])
		if !ok {
			t.Fatalf("metric %q is not a gauge", tc.name)
		}
		if got := g.DataPoints[0].Value; got != tc.want {
			t.Errorf("%s = %d, want %d", tc.name, got, tc.want)
		}
	}

	counters := []struct {
		name string
		want int64
	}{
		{"bus.published", 128},
		{"bus.dropped", 3},
	}
	for _, tc := range counters {
		met := findMetric(rm, tc.name)
		if met == nil {
			t.Fatalf("metric %q not found", tc.name)
		}
		sum, ok := met.Data.(metricdata.Sum[int64])
		if !ok {
			t.Fatalf("metric %q is not a sum", tc.name)
		}
		if got := sum.DataPoints[0].Value; got != tc.want {
			t.Errorf("%s = %d, want %d", tc.name, got, tc.want)
		}
	}

	// The callback re-reads its sources on every collection.
	depth = 7
	rm = collect(t, reader)
	met := findMetric(rm, "queue.depth")
	if met == nil {
		t.Fatal("queue.depth not found on second collect")
	}
	if got := met.Data.(metricdata.Gauge[int64]).DataPoints[0].Value; got != 7 {
		t.Errorf("queue.depth after change = %d, want 7", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
