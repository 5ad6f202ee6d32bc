package selector

import (
	"log/slog"

	"github.com/angeloszaimis/addrselect/internal/metrics"
)

// Failed records a failed call to the endpoint. Failures are counted inside
// a window of Interval seconds; once the count reaches a threshold that
// shrinks with the endpoint's weight, the weight is decreased by
// DecreaseDelta. After any adjustment, failures are ignored for
// AdjustInterval seconds so a single burst cannot cascade into several
// decreases. Unknown endpoints are ignored.
func (w *Weighted) Failed(host string, port int) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	k := key(host, port)
	ep, ok := w.endpoints[k]
	if !ok {
		return
	}

	w.emit(metrics.EventFailureReported, k, ep.weight)
	now := w.now()

	if ep.latestAdjustTime != unset && now-ep.latestAdjustTime <= w.opts.AdjustInterval {
		w.logger.Debug("Failure ignored after recent adjustment",
			slog.String("endpoint", k),
			slog.Int64("latest_adjust_time", ep.latestAdjustTime),
			slog.Int64("now", now))
		return
	}

	if ep.firstFailedTime == unset {
		ep.firstFailedTime = now
	}

	if now-ep.firstFailedTime > w.opts.Interval {
		ep.firstFailedTime = now
		ep.failedCount = 1
		return
	}

	threshold := w.opts.FailedTimesBound * ep.weight / w.opts.InitWeight
	if ep.failedCount+1 < threshold {
		ep.failedCount++
		return
	}

	w.decrease(k, ep, now)
}

// decrease lowers the weight one step and quarantines the endpoint when it
// reaches zero. The failure window is reset.
func (w *Weighted) decrease(k string, ep *endpoint, now int64) {
	ep.weight -= w.opts.DecreaseDelta
	if ep.weight < w.opts.WeightFloorBound {
		ep.weight = w.opts.WeightFloorBound
	}

	ep.failedCount = 0
	ep.firstFailedTime = unset
	ep.latestAdjustTime = now

	w.logger.Info("Decreased endpoint weight",
		slog.String("endpoint", k),
		slog.Int("weight", ep.weight))
	w.emit(metrics.EventWeightDecreased, k, ep.weight)

	if ep.weight == 0 {
		w.dead[k] = struct{}{}
		w.logger.Warn("Endpoint quarantined", slog.String("endpoint", k))
		w.emit(metrics.EventQuarantined, k, 0)
	}
}
