// Package metrics collects selector activity for the control plane.
//
// Selectors emit MetricEvent values through a non-blocking sink. A single
// collector goroutine folds them into per-endpoint counters:
//   - Selections returned by Next
//   - Failure and success reports
//   - Weight decreases and increases
//   - Quarantines and revivals
//   - Next calls that found no address
//
// Events are dropped rather than block the selector when the buffer is full,
// so counters are best effort under overload.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	sel, _ := selector.NewWeighted(opts, selector.WithEventSink(collector))
//
//	// JSON snapshot
//	mux.Handle("/metrics", collector.Handler("weighted"))
//
//	// Prometheus exposition
//	exporter := metrics.NewExporter(collector, sel)
//	mux.Handle("/metrics/prometheus", exporter.Handler())
//
// The collector drains queued events on shutdown.
package metrics
