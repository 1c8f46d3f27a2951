// Package datadog implements a Datadog backend for the internal/metrics
// package.
//
// Profiling runs range from seconds to hours, so the backend buffers
// in-memory and submits on a ticker rather than only at process exit: long
// runs produce a time series instead of a single spike, and Close performs
// one final tail flush for short runs.
//
// Concurrency model:
//   - engine goroutines call IncCounter/ObserveHistogram at any time
//   - Flush snapshots and resets the buffers under a mutex, then submits
//     out-of-lock
//   - the flush loop calls Flush periodically; Close stops the loop
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"profiler/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to
	// "profiler".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// Defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production code never sets them; unit tests use
	// them to avoid real network submission and nondeterministic clocks.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal slice of the Datadog SDK needed to submit
// metrics. The SDK exposes a concrete *datadogV2.MetricsApi; depending on
// this interface instead lets tests stub submission without HTTP.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	runCounts   map[string]float64 // status -> count
	rowCount    float64
	byteCount   float64
	errorCounts map[string]float64 // code -> count
	spillCount  float64
	stageDur    map[string][]float64 // stage -> duration samples
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client.
// Network errors surface from Flush, not from construction.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "profiler"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		cfg := dd.NewConfiguration()
		client := dd.NewAPIClient(cfg)
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,

		runCounts:   make(map[string]float64),
		errorCounts: make(map[string]float64),
		stageDur:    make(map[string][]float64),
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush.
// Close must be called at most once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.RunsTotal:
		status := labels["status"]
		if status == "" {
			status = "unknown"
		}
		b.runCounts[status] += delta

	case metrics.RowsTotal:
		b.rowCount += delta

	case metrics.BytesTotal:
		b.byteCount += delta

	case metrics.ErrorsTotal:
		code := labels["code"]
		if code == "" {
			return
		}
		b.errorCounts[code] += delta

	case metrics.SpillsTotal:
		b.spillCount += delta

	default:
		// Ignore unknown metrics by design.
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.StageDurationSeconds:
		stage := labels["stage"]
		if stage == "" {
			stage = "unknown"
		}
		b.stageDur[stage] = append(b.stageDur[stage], value)

	default:
		// Ignore unknown histograms by design.
	}
}

// snapshot is the detached buffered state used to build one flush payload,
// so submission happens out-of-lock.
type snapshot struct {
	runCounts   map[string]float64
	rowCount    float64
	byteCount   float64
	errorCounts map[string]float64
	spillCount  float64
	stageDur    map[string][]float64
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		runCounts:   b.runCounts,
		rowCount:    b.rowCount,
		byteCount:   b.byteCount,
		errorCounts: b.errorCounts,
		spillCount:  b.spillCount,
		stageDur:    b.stageDur,
	}
	b.runCounts = make(map[string]float64)
	b.rowCount = 0
	b.byteCount = 0
	b.errorCounts = make(map[string]float64)
	b.spillCount = 0
	b.stageDur = make(map[string][]float64)
	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.runCounts) == 0 &&
		s.rowCount == 0 &&
		s.byteCount == 0 &&
		len(s.errorCounts) == 0 &&
		s.spillCount == 0 &&
		len(s.stageDur) == 0
}

// Flush submits buffered metrics and resets local buffers. Buffers are
// reset even when submission fails, so a slow or failing intake never
// blocks the engine's hot path.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	series := b.buildSeries(snap, b.now().Unix())
	payload := datadogV2.MetricPayload{Series: series}

	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries constructs the Datadog series for a snapshot at a fixed
// timestamp. It is pure (no locks, network, or clocks) and centralizes the
// naming/tagging contract.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.runCounts)+len(s.errorCounts)+16)

	for status, v := range s.runCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "status:"+status)
		series = append(series, countSeries("profiler.runs.total", v, tags, nowUnix))
	}
	if s.rowCount != 0 {
		series = append(series, countSeries("profiler.rows.total", s.rowCount, b.baseTags, nowUnix))
	}
	if s.byteCount != 0 {
		series = append(series, countSeries("profiler.bytes.total", s.byteCount, b.baseTags, nowUnix))
	}
	for code, v := range s.errorCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "code:"+code)
		series = append(series, countSeries("profiler.errors.total", v, tags, nowUnix))
	}
	if s.spillCount != 0 {
		series = append(series, countSeries("profiler.spills.total", s.spillCount, b.baseTags, nowUnix))
	}

	for stage, samples := range s.stageDur {
		addPercentiles(&series, b.baseTags, "profiler.stage.duration_seconds", stage, samples, nowUnix)
	}
	return series
}

// addPercentiles appends a fixed set of percentile gauges for one stage's
// duration samples. It sorts a copy and leaves the input untouched.
func addPercentiles(series *[]datadogV2.MetricSeries, baseTags []string, metricPrefix, stage string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	tags := withTags(baseTags, "stage:"+stage)
	*series = append(*series, gaugeSeries(metricPrefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".max", cp[len(cp)-1], tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".samples", float64(len(cp)), tags, nowUnix))
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:profiler".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
