// Package observe provides application-wide observability primitives for
// voxbridge: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them into a Prometheus registry served by [Telemetry.Handler]. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// meterName is the instrumentation scope name used for all voxbridge metrics.
const meterName = "github.com/MrWong99/voxbridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	meter metric.Meter

	// --- Latency histograms ---

	// STTDuration tracks transcription latency per utterance.
	STTDuration metric.Float64Histogram

	// GatewayDuration tracks conversation gateway latency per turn.
	GatewayDuration metric.Float64Histogram

	// TTSFirstAudio tracks the delay from synthesis request to first audio.
	TTSFirstAudio metric.Float64Histogram

	// TurnDuration tracks end-of-utterance to first reply frame.
	TurnDuration metric.Float64Histogram

	// BargeInLatency tracks the delay from the start of user speech to the
	// confirmed interruption.
	BargeInLatency metric.Float64Histogram

	// --- Counters ---

	// Transitions counts pipeline state transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	Transitions metric.Int64Counter

	// BargeIns counts confirmed interruptions.
	BargeIns metric.Int64Counter

	// FlushedFrames counts output frames discarded by interruptions.
	FlushedFrames metric.Int64Counter

	// Utterances counts speech segments closed by the VAD.
	Utterances metric.Int64Counter

	// WakeWords counts wake phrase detections.
	WakeWords metric.Int64Counter

	// ProviderRequests counts provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled by
	// the matched "route" pattern and the response "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// bargeInBuckets are finer: interruptions should land within 100-300 ms.
var bargeInBuckets = []float64{
	0.05, 0.075, 0.1, 0.125, 0.15, 0.2, 0.3, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{meter: m}
	var errs []error

	histogram := func(name, desc string, buckets []float64) metric.Float64Histogram {
		h, err := m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(buckets...),
		)
		errs = append(errs, err)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	met.STTDuration = histogram("voxbridge.stt.duration", "Latency of speech-to-text transcription.", latencyBuckets)
	met.GatewayDuration = histogram("voxbridge.gateway.duration", "Latency of conversation gateway turns.", latencyBuckets)
	met.TTSFirstAudio = histogram("voxbridge.tts.first_audio", "Delay until the first synthesized audio chunk.", latencyBuckets)
	met.TurnDuration = histogram("voxbridge.turn.duration", "End of utterance to first reply frame.", latencyBuckets)
	met.BargeInLatency = histogram("voxbridge.bargein.latency", "Start of user speech to confirmed interruption.", bargeInBuckets)

	met.Transitions = counter("voxbridge.pipeline.transitions", "Pipeline state transitions by source and target state.")
	met.BargeIns = counter("voxbridge.bargein.count", "Confirmed barge-in interruptions.")
	met.FlushedFrames = counter("voxbridge.bargein.flushed_frames", "Output frames discarded by interruptions.")
	met.Utterances = counter("voxbridge.vad.utterances", "Speech segments closed by voice activity detection.")
	met.WakeWords = counter("voxbridge.wakeword.detections", "Wake phrase detections.")
	met.ProviderRequests = counter("voxbridge.provider.requests", "Total provider requests by provider, kind, and status.")
	met.ProviderErrors = counter("voxbridge.provider.errors", "Total provider errors by provider and kind.")

	hd, err := m.Float64Histogram("voxbridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	)
	errs = append(errs, err)
	met.HTTPRequestDuration = hd

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return met, nil
}

// BufferSource is a frame buffer whose counters can be observed.
// [audio.FrameBuffer] implements it.
type BufferSource interface {
	Name() string
	Stats() audio.Stats
}

var _ BufferSource = (*audio.FrameBuffer)(nil)

// RegisterBuffers exports the counters of every buffer in bufs as observable
// instruments, read at collection time. Each buffer is labelled with its
// name. Unregister the returned registration when the buffers go away.
func (m *Metrics) RegisterBuffers(bufs ...BufferSource) (metric.Registration, error) {
	occupied, err1 := m.meter.Int64ObservableGauge("voxbridge.buffer.occupied",
		metric.WithDescription("Frames currently held by the buffer."))
	capacity, err2 := m.meter.Int64ObservableGauge("voxbridge.buffer.capacity",
		metric.WithDescription("Buffer capacity in frames."))
	overflows, err3 := m.meter.Int64ObservableCounter("voxbridge.buffer.overflows",
		metric.WithDescription("Writes rejected because the buffer was full."))
	underflows, err4 := m.meter.Int64ObservableCounter("voxbridge.buffer.underflows",
		metric.WithDescription("Reads that found the buffer empty."))
	stale, err5 := m.meter.Int64ObservableCounter("voxbridge.buffer.stale_dropped",
		metric.WithDescription("Writes dropped because the buffer was cleared after the writer's generation."))
	if err := errors.Join(err1, err2, err3, err4, err5); err != nil {
		return nil, err
	}

	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, b := range bufs {
			st := b.Stats()
			attrs := metric.WithAttributes(attribute.String("buffer", b.Name()))
			o.ObserveInt64(occupied, int64(st.Occupied), attrs)
			o.ObserveInt64(capacity, int64(st.Capacity), attrs)
			o.ObserveInt64(overflows, int64(st.Overflows), attrs)
			o.ObserveInt64(underflows, int64(st.Underflows), attrs)
			o.ObserveInt64(stale, int64(st.StaleDropped), attrs)
		}
		return nil
	}, occupied, capacity, overflows, underflows, stale)
}

// RegisterState exports the current pipeline state, as reported by state,
// as a gauge that is 1 for the active state and 0 for the others listed in
// states.
func (m *Metrics) RegisterState(states []string, state func() string) (metric.Registration, error) {
	g, err := m.meter.Int64ObservableGauge("voxbridge.pipeline.state",
		metric.WithDescription("1 for the current pipeline state, 0 otherwise."))
	if err != nil {
		return nil, err
	}
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		cur := state()
		for _, s := range states {
			var v int64
			if s == cur {
				v = 1
			}
			o.ObserveInt64(g, v, metric.WithAttributes(attribute.String("state", s)))
		}
		return nil
	}, g)
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordProviderRequest records one provider call with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTransition records one pipeline state transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.Transitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordBargeIn records a confirmed interruption, its detection latency in
// seconds and the number of output frames it discarded.
func (m *Metrics) RecordBargeIn(ctx context.Context, latencySeconds float64, flushed int) {
	m.BargeIns.Add(ctx, 1)
	m.BargeInLatency.Record(ctx, latencySeconds)
	if flushed > 0 {
		m.FlushedFrames.Add(ctx, int64(flushed))
	}
}
