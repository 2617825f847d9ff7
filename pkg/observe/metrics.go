package observe

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name for every metric this
// pipeline emits, following the per-service meterName constant in
// MrWong99-glyphoxa/internal/observe/metrics.go.
const meterName = "github.com/lokutor-ai/voxpipe"

// Metrics holds the OpenTelemetry counters this pipeline can actually
// emit: one per component-level event named in spec.md §9's metrics
// wiring note (segments, commits, clears, chunks, turns, timeouts),
// scaled down from glyphoxa's full NPC/tool/provider instrument set
// to what an ingest-only pipeline produces.
type Metrics struct {
	SegmentsOpened  metric.Int64Counter
	CommitsIssued   metric.Int64Counter
	ClearsIssued    metric.Int64Counter
	ChunksAppended  metric.Int64Counter
	TurnsOpened     metric.Int64Counter
	TurnsFinalized  metric.Int64Counter
	FinalTimeouts   metric.Int64Counter
	ActiveSessions  metric.Int64UpDownCounter

	HTTPRequestDuration metric.Float64Histogram
}

// NewMetrics creates a fully initialised Metrics using mp. Returns an
// error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.SegmentsOpened, err = m.Int64Counter("voxpipe.segments.opened",
		metric.WithDescription("Segments opened by the segmenter (IDLE->SPEECH transitions).")); err != nil {
		return nil, err
	}
	if met.CommitsIssued, err = m.Int64Counter("voxpipe.commits.issued",
		metric.WithDescription("Commits issued to the transcription provider.")); err != nil {
		return nil, err
	}
	if met.ClearsIssued, err = m.Int64Counter("voxpipe.clears.issued",
		metric.WithDescription("Clears issued to the transcription provider.")); err != nil {
		return nil, err
	}
	if met.ChunksAppended, err = m.Int64Counter("voxpipe.chunks.appended",
		metric.WithDescription("960-byte audio chunks appended to the transcription provider.")); err != nil {
		return nil, err
	}
	if met.TurnsOpened, err = m.Int64Counter("voxpipe.turns.opened",
		metric.WithDescription("Turns opened by the turn coordinator.")); err != nil {
		return nil, err
	}
	if met.TurnsFinalized, err = m.Int64Counter("voxpipe.turns.finalized",
		metric.WithDescription("Turns resolved to a final transcript.")); err != nil {
		return nil, err
	}
	if met.FinalTimeouts, err = m.Int64Counter("voxpipe.turns.final_timeout",
		metric.WithDescription("Turns resolved via the final-timeout fallback instead of a provider final.")); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxpipe.active_sessions",
		metric.WithDescription("Number of live ingest sessions.")); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxpipe.http.request.duration",
		metric.WithDescription("Signaling HTTP request latency."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// NoOpMetrics returns a Metrics backed by the no-op MeterProvider, for
// tests and callers that don't want a Prometheus dependency.
func NoOpMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics must never fail: " + err.Error())
	}
	return m
}
