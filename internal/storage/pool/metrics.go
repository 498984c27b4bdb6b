package pool

import "github.com/prometheus/client_golang/prometheus"

// Collector exports pool counters to Prometheus.
type Collector struct {
	pool *Pool

	acquired       *prometheus.Desc
	released       *prometheus.Desc
	exhausted      *prometheus.Desc
	doubleReleases *prometheus.Desc
	inUse          *prometheus.Desc
	open           *prometheus.Desc
	maxConns       *prometheus.Desc
}

// NewCollector returns a collector reading p on every scrape.
func NewCollector(p *Pool) *Collector {
	ns := "winbash_pool"
	return &Collector{
		pool:           p,
		acquired:       prometheus.NewDesc(ns+"_acquired_total", "Connections leased from the pool.", nil, nil),
		released:       prometheus.NewDesc(ns+"_released_total", "Leased connections returned to the pool.", nil, nil),
		exhausted:      prometheus.NewDesc(ns+"_exhausted_total", "Acquisitions that timed out waiting for a connection.", nil, nil),
		doubleReleases: prometheus.NewDesc(ns+"_double_releases_total", "Release calls on an already released connection.", nil, nil),
		inUse:          prometheus.NewDesc(ns+"_in_use", "Connections currently leased.", nil, nil),
		open:           prometheus.NewDesc(ns+"_open_connections", "Open connections, leased or idle.", nil, nil),
		maxConns:       prometheus.NewDesc(ns+"_max_conns", "Upper bound on open connections.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.released
	ch <- c.exhausted
	ch <- c.doubleReleases
	ch <- c.inUse
	ch <- c.open
	ch <- c.maxConns
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stats()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.CounterValue, float64(s.Acquired))
	ch <- prometheus.MustNewConstMetric(c.released, prometheus.CounterValue, float64(s.Released))
	ch <- prometheus.MustNewConstMetric(c.exhausted, prometheus.CounterValue, float64(s.Exhausted))
	ch <- prometheus.MustNewConstMetric(c.doubleReleases, prometheus.CounterValue, float64(s.DoubleReleases))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse))
	ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(s.OpenConnections))
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(s.MaxConns))
}
