// Package observe provides application-wide observability primitives for
// phonebridge: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all phonebridge metrics.
const meterName = "github.com/MrWong99/phonebridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per orchestrator step ---

	STTDuration       metric.Float64Histogram
	LLMDuration       metric.Float64Histogram
	TranslateDuration metric.Float64Histogram
	TTSDuration       metric.Float64Histogram

	// TurnDuration tracks segment dispatch to synthesized reply.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// FramesDropped counts frames evicted from a full ingress queue.
	FramesDropped metric.Int64Counter

	// DecodeErrors counts media payloads that could not be decoded.
	DecodeErrors metric.Int64Counter

	// Segments counts segmenter outcomes. Use with attribute:
	//   attribute.String("outcome", "finalized"|"forced"|"discarded")
	Segments metric.Int64Counter

	// Turns counts orchestrator runs. Use with attribute:
	//   attribute.String("status", "ok"|"transcription"|"generation"|"synthesis"|"canceled")
	Turns metric.Int64Counter

	// StaleResults counts orchestrator results discarded by sequence number.
	StaleResults metric.Int64Counter

	// EgressAborted counts playbacks cut short by session close.
	EgressAborted metric.Int64Counter

	// ProviderRequests counts backend attempts made by the fallback
	// chains, labelled provider, kind and status. See RecordProviderAttempt.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed backend attempts by provider and kind.
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live call sessions.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time by method,
	// route pattern and status. See [Middleware].
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// vendor round trips of one call turn.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "phonebridge.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "phonebridge.llm.duration", "Latency of LLM reply generation."},
		{&met.TranslateDuration, "phonebridge.translate.duration", "Latency of reply translation."},
		{&met.TTSDuration, "phonebridge.tts.duration", "Latency of text-to-speech synthesis."},
		{&met.TurnDuration, "phonebridge.turn.duration", "Latency from segment dispatch to synthesized reply."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesDropped, "phonebridge.frames.dropped", "Frames evicted from a full ingress queue."},
		{&met.DecodeErrors, "phonebridge.frames.decode_errors", "Media payloads that failed to decode."},
		{&met.Segments, "phonebridge.segments", "Speech segments by outcome."},
		{&met.Turns, "phonebridge.turns", "Orchestrator turns by status."},
		{&met.StaleResults, "phonebridge.stale_results", "Orchestrator results discarded as stale."},
		{&met.EgressAborted, "phonebridge.egress.aborted", "Playbacks aborted by session close."},
		{&met.ProviderRequests, "phonebridge.provider.requests", "Backend attempts by provider, kind and outcome."},
		{&met.ProviderErrors, "phonebridge.provider.errors", "Failed backend attempts by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("phonebridge.active_calls",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("phonebridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordProviderAttempt counts one provider call by outcome. Attempts
// with outcome "error" are also counted in ProviderErrors.
func (m *Metrics) RecordProviderAttempt(ctx context.Context, provider, kind, outcome string) {
	p, k := attribute.String("provider", provider), attribute.String("kind", kind)
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(p, k, attribute.String("status", outcome)))
	if outcome == "error" {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(p, k))
	}
}

// RecordSegment counts one segmenter outcome.
func (m *Metrics) RecordSegment(ctx context.Context, outcome string) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTurn counts one orchestrator run with its final status.
func (m *Metrics) RecordTurn(ctx context.Context, status string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
