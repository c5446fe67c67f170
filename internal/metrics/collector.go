package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tiler"

// Collector holds the prometheus metrics of the fetcher, packager and server.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	fetchTiles     *prometheus.CounterVec
	fetchDuration  prometheus.Histogram
	packTiles      *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	cacheEvictions prometheus.Counter
	cacheEntries   prometheus.Gauge
	tileRequests   *prometheus.CounterVec
}

// NewCollector creates a collector backed by its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		fetchTiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "tiles_total",
			Help:      "Tiles visited by the fetcher, by outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "request_duration_seconds",
			Help:      "Duration of remote tile requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		packTiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pack",
			Name:      "tiles_total",
			Help:      "Tiles visited by the packager, by outcome.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Tile cache lookups, by result.",
		}, []string{"result"}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries evicted from the tile cache.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries currently held by the tile cache.",
		}),
		tileRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "tile_requests_total",
			Help:      "Tile requests served, by status code.",
		}, []string{"code"}),
	}

	c.registry.MustRegister(
		c.fetchTiles,
		c.fetchDuration,
		c.packTiles,
		c.cacheLookups,
		c.cacheEvictions,
		c.cacheEntries,
		c.tileRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the metrics in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// FetchTile counts a fetcher outcome: existing, fetched, failed.
func (c *Collector) FetchTile(outcome string) {
	if c == nil {
		return
	}
	c.fetchTiles.WithLabelValues(outcome).Inc()
}

// FetchDuration records a remote request duration in seconds.
func (c *Collector) FetchDuration(seconds float64) {
	if c == nil {
		return
	}
	c.fetchDuration.Observe(seconds)
}

// PackTile counts a packager outcome: packed, skipped, failed.
func (c *Collector) PackTile(outcome string) {
	if c == nil {
		return
	}
	c.packTiles.WithLabelValues(outcome).Inc()
}

// CacheLookup counts a cache lookup result: hit or miss.
func (c *Collector) CacheLookup(result string) {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// CacheEviction counts an evicted cache entry.
func (c *Collector) CacheEviction() {
	if c == nil {
		return
	}
	c.cacheEvictions.Inc()
}

// CacheEntries sets the current cache size.
func (c *Collector) CacheEntries(n int) {
	if c == nil {
		return
	}
	c.cacheEntries.Set(float64(n))
}

// TileRequest counts a served tile request by status code.
func (c *Collector) TileRequest(code string) {
	if c == nil {
		return
	}
	c.tileRequests.WithLabelValues(code).Inc()
}
