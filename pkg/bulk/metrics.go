package bulk

import (
	"github.com/prometheus/client_golang/prometheus"
)

type collector struct {
	stats func() Stats

	accepted   *prometheus.Desc
	inFlight   *prometheus.Desc
	successful *prometheus.Desc
	active     *prometheus.Desc
	spawned    *prometheus.Desc
	queued     *prometheus.Desc
}

// NewCollector exposes the counters returned by stats as Prometheus gauges.
// name is attached to every sample as the "index" label.
func NewCollector(name string, stats func() Stats) prometheus.Collector {
	labels := prometheus.Labels{"index": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("esbulk", "", metric), help, nil, labels)
	}

	return &collector{
		stats:      stats,
		accepted:   desc("commands_accepted", "Commands accepted by the bulk request."),
		inFlight:   desc("commands_in_flight", "Commands encoded into bulk calls that have not returned yet."),
		successful: desc("requests_successful", "Bulk calls acknowledged by the engine."),
		active:     desc("workers_active", "Workers currently running."),
		spawned:    desc("workers_spawned", "Workers spawned so far."),
		queued:     desc("commands_queued", "Commands waiting in the queue."),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.accepted
	ch <- c.inFlight
	ch <- c.successful
	ch <- c.active
	ch <- c.spawned
	ch <- c.queued
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.accepted, prometheus.GaugeValue, float64(s.Accepted))
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(s.InFlight))
	ch <- prometheus.MustNewConstMetric(c.successful, prometheus.GaugeValue, float64(s.SuccessfulRequests))
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.ActiveWorkers))
	ch <- prometheus.MustNewConstMetric(c.spawned, prometheus.GaugeValue, float64(s.SpawnedWorkers))
	ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(s.Queued))
}
