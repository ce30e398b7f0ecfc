package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/version"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/xerrors"
)

type RunMetrics struct {
	reg       *prometheus.Registry
	handler   http.Handler
	buildInfo *prometheus.GaugeVec

	runsTotal           *prometheus.CounterVec
	entriesWrittenTotal prometheus.Counter
	entryFailuresTotal  *prometheus.CounterVec
	bytesWrittenTotal   prometheus.Counter
	runDuration         prometheus.Histogram
	lastRunTs           prometheus.Gauge
	lastSuccessTs       prometheus.Gauge
	lastRunEntries      *prometheus.GaugeVec

	manifestInfo     *prometheus.GaugeVec
	manifestLoadedTs prometheus.Gauge

	profilingActive prometheus.Gauge

	// watcher metrics
	watcherPollsTotal    prometheus.Counter
	watcherSwapsTotal    prometheus.Counter
	watcherErrorsTotal   *prometheus.CounterVec
	bundleLoadDuration   prometheus.Histogram
	watcherLastSuccessTs prometheus.Gauge
	watcherStale         prometheus.Gauge
}

// New returns a fresh registry with the standard collectors and the run,
// manifest and watcher metrics.
func New() *RunMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &RunMetrics{
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "materialize_runs_total",
			Help: "Total materialization runs by result",
		}, []string{"result"}),
		entriesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "materialize_entries_written_total",
			Help: "Total entries written",
		}),
		entryFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "materialize_entry_failures_total",
			Help: "Total entry failures by kind",
		}, []string{"kind"}),
		bytesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "materialize_bytes_written_total",
			Help: "Total content bytes written",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "materialize_run_duration_seconds",
			Help:    "Wall time of a materialization run",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		lastRunTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "materialize_last_run_timestamp_seconds",
			Help: "Unix timestamp of the last finished run",
		}),
		lastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "materialize_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last run with no failed entries",
		}),
		lastRunEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "materialize_last_run_entries",
			Help: "Entries in the last run by outcome",
		}, []string{"outcome"}),
		manifestInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "materialize_manifest_info",
			Help: "Current manifest (labels carry identity, value is always 1)",
		}, []string{"source", "sha256"}),
		manifestLoadedTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "materialize_manifest_loaded_timestamp_seconds",
			Help: "Unix timestamp of when the current manifest was loaded",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		watcherPollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bundle_watcher_polls_total",
			Help: "Total number of watcher poll cycles",
		}),
		watcherSwapsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bundle_watcher_swaps_total",
			Help: "Total number of bundles loaded and materialized by the watcher",
		}),
		watcherErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bundle_watcher_errors_total",
			Help: "Total watcher errors by type",
		}, []string{"type"}),
		bundleLoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bundle_load_duration_seconds",
			Help:    "Time to download, verify, and extract a manifest bundle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		watcherLastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bundle_watcher_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful SSM poll",
		}),
		watcherStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bundle_watcher_stale",
			Help: "Whether the bundle watcher is stale (1) or healthy (0)",
		}),
	}
	reg.MustRegister(
		m.buildInfo,
		m.runsTotal,
		m.entriesWrittenTotal,
		m.entryFailuresTotal,
		m.bytesWrittenTotal,
		m.runDuration,
		m.lastRunTs,
		m.lastSuccessTs,
		m.lastRunEntries,
		m.manifestInfo,
		m.manifestLoadedTs,
		m.profilingActive,
		m.watcherPollsTotal,
		m.watcherSwapsTotal,
		m.watcherErrorsTotal,
		m.bundleLoadDuration,
		m.watcherLastSuccessTs,
		m.watcherStale,
	)
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

// Handler serves the registry for the admin listener in watch mode.
func (m *RunMetrics) Handler() http.Handler {
	return m.handler
}

// Registry exposes the underlying registry for gathering.
func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.reg
}

// WriteTextfile writes the registry in text exposition format for the
// node_exporter textfile collector. The file is replaced atomically.
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return xerrors.Wrapf(err, "write metrics textfile %s", path)
	}
	return nil
}

// set once at startup.
func (m *RunMetrics) SetBuildInfoFromVersion(component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         vi.AppName,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *RunMetrics) EntryWritten(bytes int) {
	m.entriesWrittenTotal.Inc()
	m.bytesWrittenTotal.Add(float64(bytes))
}

func (m *RunMetrics) EntryFailed(kind string) {
	m.entryFailuresTotal.WithLabelValues(kind).Inc()
}

// RunFinished records one completed run. A run with no failures counts as
// a success even if it was interrupted before every entry was attempted.
func (m *RunMetrics) RunFinished(d time.Duration, written, failed int) {
	now := float64(time.Now().Unix())
	m.runDuration.Observe(d.Seconds())
	m.lastRunTs.Set(now)
	m.lastRunEntries.WithLabelValues("written").Set(float64(written))
	m.lastRunEntries.WithLabelValues("failed").Set(float64(failed))
	if failed > 0 {
		m.runsTotal.WithLabelValues("failure").Inc()
		return
	}
	m.runsTotal.WithLabelValues("success").Inc()
	m.lastSuccessTs.Set(now)
}

func (m *RunMetrics) SetManifest(source, sha256 string, loadedAt time.Time) {
	m.manifestInfo.Reset() // clear previous label values
	m.manifestInfo.WithLabelValues(source, sha256).Set(1)
	m.manifestLoadedTs.Set(float64(loadedAt.Unix()))
}

func (m *RunMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func (m *RunMetrics) IncWatcherPolls() {
	m.watcherPollsTotal.Inc()
}

func (m *RunMetrics) IncWatcherSwaps() {
	m.watcherSwapsTotal.Inc()
}

func (m *RunMetrics) IncWatcherError(errType string) {
	m.watcherErrorsTotal.WithLabelValues(errType).Inc()
}

func (m *RunMetrics) ObserveBundleLoadDuration(seconds float64) {
	m.bundleLoadDuration.Observe(seconds)
}

func (m *RunMetrics) SetWatcherLastSuccess(unixSeconds float64) {
	m.watcherLastSuccessTs.Set(unixSeconds)
}

func (m *RunMetrics) SetWatcherStale(stale bool) {
	if stale {
		m.watcherStale.Set(1)
	} else {
		m.watcherStale.Set(0)
	}
}
