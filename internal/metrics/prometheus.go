package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "addrselect"

// PoolSource exposes the live weights of a selector pool.
type PoolSource interface {
	Weights() map[string]int
	Dead() []string
}

// Exporter publishes collector counters and live pool weights in the
// Prometheus exposition format. Values are read at scrape time.
type Exporter struct {
	metrics  *Metrics
	pool     PoolSource
	registry *prometheus.Registry

	weight      *prometheus.Desc
	dead        *prometheus.Desc
	selections  *prometheus.Desc
	reports     *prometheus.Desc
	adjustments *prometheus.Desc
	quarantines *prometheus.Desc
	revivals    *prometheus.Desc
	noAddress   *prometheus.Desc
}

// NewExporter creates an exporter on a private registry. pool may be nil
// for selectors without weights.
func NewExporter(c *Collector, pool PoolSource) *Exporter {
	e := &Exporter{
		metrics:  c.metrics,
		pool:     pool,
		registry: prometheus.NewRegistry(),

		weight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "endpoint_weight"),
			"Current selection weight per endpoint",
			[]string{"endpoint"}, nil),
		dead: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "dead_endpoints"),
			"Number of endpoints in quarantine",
			nil, nil),
		selections: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "selections_total"),
			"Total endpoints returned by Next",
			[]string{"endpoint"}, nil),
		reports: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "reports_total"),
			"Total call outcomes reported per endpoint",
			[]string{"endpoint", "outcome"}, nil),
		adjustments: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "weight_adjustments_total"),
			"Total weight changes per endpoint",
			[]string{"endpoint", "direction"}, nil),
		quarantines: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "quarantines_total"),
			"Total times an endpoint entered quarantine",
			[]string{"endpoint"}, nil),
		revivals: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "revivals_total"),
			"Total times an endpoint left quarantine",
			[]string{"endpoint"}, nil),
		noAddress: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "no_address_total"),
			"Total Next calls that found no address",
			nil, nil),
	}

	e.registry.MustRegister(e)
	return e
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.weight
	ch <- e.dead
	ch <- e.selections
	ch <- e.reports
	ch <- e.adjustments
	ch <- e.quarantines
	ch <- e.revivals
	ch <- e.noAddress
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.metrics.Snapshot("")

	for name, em := range snap.Endpoints {
		ch <- prometheus.MustNewConstMetric(e.selections, prometheus.CounterValue, float64(em.Selections), name)
		ch <- prometheus.MustNewConstMetric(e.reports, prometheus.CounterValue, float64(em.Failures), name, "failure")
		ch <- prometheus.MustNewConstMetric(e.reports, prometheus.CounterValue, float64(em.Successes), name, "success")
		ch <- prometheus.MustNewConstMetric(e.adjustments, prometheus.CounterValue, float64(em.Decreases), name, "decrease")
		ch <- prometheus.MustNewConstMetric(e.adjustments, prometheus.CounterValue, float64(em.Increases), name, "increase")
		ch <- prometheus.MustNewConstMetric(e.quarantines, prometheus.CounterValue, float64(em.Quarantines), name)
		ch <- prometheus.MustNewConstMetric(e.revivals, prometheus.CounterValue, float64(em.Revivals), name)
	}
	ch <- prometheus.MustNewConstMetric(e.noAddress, prometheus.CounterValue, float64(snap.NoAddress))

	if e.pool == nil {
		return
	}

	for name, weight := range e.pool.Weights() {
		ch <- prometheus.MustNewConstMetric(e.weight, prometheus.GaugeValue, float64(weight), name)
	}
	ch <- prometheus.MustNewConstMetric(e.dead, prometheus.GaugeValue, float64(len(e.pool.Dead())))
}

// Registry returns the registry the exporter is registered with.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
