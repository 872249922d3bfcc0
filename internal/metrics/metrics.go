// Package metrics exposes kit and storage activity as Prometheus metrics.
// Collectors live on their own registry; nothing is registered globally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "historykit"

// Collector implements kit.Metrics, pebblestore.MetricsHook and
// history.TrimHook.
type Collector struct {
	registry *prometheus.Registry

	cycles       prometheus.Counter
	fetched      prometheus.Counter
	cleaned      prometheus.Counter
	errors       *prometheus.CounterVec
	watermark    prometheus.Gauge
	cycleSeconds prometheus.Histogram

	trimBatches prometheus.Counter
	trimmed     *prometheus.CounterVec

	storeWrite  prometheus.Histogram
	storeRead   prometheus.Histogram
	storeCommit prometheus.Histogram
	commitOps   prometheus.Histogram
}

// New builds a Collector with a fresh registry that also carries the Go and
// process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Processing cycles run.",
		}),
		fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_fetched_total",
			Help:      "Transactions fetched and merged.",
		}),
		cleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_cleaned_total",
			Help:      "Transactions deleted below the watermark.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Cycle failures by stage.",
		}, []string{"stage"}),
		watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_seconds",
			Help:      "Last computed safe-deletion watermark as a Unix timestamp.",
		}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_seconds",
			Help:      "Duration of processing cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		trimBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trim_batches_total",
			Help:      "Committed delete batches.",
		}),
		trimmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trimmed_transactions_total",
			Help:      "Transactions removed by delete batches, by store.",
		}, []string{"store"}),
		storeWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pebble",
			Name:      "write_seconds",
			Help:      "Single-key write latency.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}),
		storeRead: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pebble",
			Name:      "read_seconds",
			Help:      "Point read latency.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}),
		storeCommit: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pebble",
			Name:      "commit_seconds",
			Help:      "Batch commit latency.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}),
		commitOps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pebble",
			Name:      "commit_ops",
			Help:      "Operations per committed batch.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024},
		}),
	}
	c.registry.MustRegister(
		c.cycles, c.fetched, c.cleaned, c.errors, c.watermark, c.cycleSeconds,
		c.trimBatches, c.trimmed,
		c.storeWrite, c.storeRead, c.storeCommit, c.commitOps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObserveCycle(fetched int, elapsed time.Duration) {
	c.cycles.Inc()
	c.fetched.Add(float64(fetched))
	c.cycleSeconds.Observe(elapsed.Seconds())
}

func (c *Collector) ObserveClean(deleted int) { c.cleaned.Add(float64(deleted)) }

func (c *Collector) ObserveError(stage string) { c.errors.WithLabelValues(stage).Inc() }

func (c *Collector) ObserveWatermark(t time.Time) {
	c.watermark.Set(float64(t.UnixNano()) / float64(time.Second))
}

func (c *Collector) EmitTrimRange(store string, _, _ time.Time, count int) {
	c.trimBatches.Inc()
	c.trimmed.WithLabelValues(store).Add(float64(count))
}

func (c *Collector) ObserveWrite(elapsed time.Duration, _ int) {
	c.storeWrite.Observe(elapsed.Seconds())
}

func (c *Collector) ObserveRead(elapsed time.Duration, _ int) {
	c.storeRead.Observe(elapsed.Seconds())
}

func (c *Collector) ObserveBatchCommit(elapsed time.Duration, numOps int, _ int) {
	c.storeCommit.Observe(elapsed.Seconds())
	c.commitOps.Observe(float64(numOps))
}
