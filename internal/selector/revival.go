package selector

import (
	"log/slog"

	"github.com/angeloszaimis/addrselect/internal/metrics"
)

// Succeed records a successful call to the endpoint. An endpoint that was
// adjusted earlier gains IncreaseDelta weight, capped at InitWeight, once it
// has held its current weight for more than KeepTime seconds. Endpoints that
// were never adjusted and unknown endpoints are left alone.
func (w *Weighted) Succeed(host string, port int) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	k := key(host, port)
	ep, ok := w.endpoints[k]
	if !ok {
		return
	}

	w.emit(metrics.EventSuccessReported, k, ep.weight)

	if ep.latestAdjustTime == unset {
		return
	}

	now := w.now()
	if now-ep.latestAdjustTime <= w.opts.KeepTime {
		return
	}

	w.increase(ep, now)
	w.logger.Info("Increased endpoint weight",
		slog.String("endpoint", k),
		slog.Int("weight", ep.weight))
	w.emit(metrics.EventWeightIncreased, k, ep.weight)

	if _, dead := w.dead[k]; dead && ep.weight > 0 {
		delete(w.dead, k)
		w.emit(metrics.EventRevived, k, ep.weight)
	}
}

// revive gives quarantined endpoints whose cool-down has passed their first
// weight step back. Keys of endpoints removed while quarantined are dropped,
// as are keys whose endpoint was re-added since.
// Must be called with w.mutex held.
func (w *Weighted) revive() {
	if len(w.dead) == 0 {
		return
	}

	now := w.now()
	quarantined := make(map[string]struct{}, len(w.dead))

	for k := range w.dead {
		ep, ok := w.endpoints[k]
		if !ok {
			w.logger.Info("Dropped removed endpoint from quarantine", slog.String("endpoint", k))
			continue
		}

		if ep.weight > 0 {
			continue
		}

		if now-ep.latestAdjustTime <= w.opts.KeepTime {
			quarantined[k] = struct{}{}
			continue
		}

		w.increase(ep, now)
		if ep.weight == 0 {
			quarantined[k] = struct{}{}
			continue
		}
		w.logger.Info("Revived endpoint",
			slog.String("endpoint", k),
			slog.Int("weight", ep.weight))
		w.emit(metrics.EventRevived, k, ep.weight)
	}

	w.dead = quarantined
}

func (w *Weighted) increase(ep *endpoint, now int64) {
	ep.weight += w.opts.IncreaseDelta
	if ep.weight > w.opts.InitWeight {
		ep.weight = w.opts.InitWeight
	}
	ep.latestAdjustTime = now
}
