// Package selector defines the address selection interface and implements
// two algorithms over a dynamic pool of host:port endpoints:
//
//   - Round Robin: health-oblivious baseline, outcome reports are ignored
//   - Weighted: failure-adaptive selection with time-windowed failure
//     counting, debounced weight decrease, dead-node quarantine and
//     cool-down gated revival
//
// Both algorithms satisfy Selector, so callers can swap them without code
// changes. Selectors own no goroutines: every time-based rule is evaluated
// lazily on the next call that needs it.
//
// Usage:
//
//	sel, err := selector.NewWeighted(selector.DefaultOptions())
//	sel.AddAddr("10.0.0.1", 9090)
//	addr, err := sel.Next()
//	if err != nil {
//	    // errors.Is(err, selector.ErrNoAddress): back off and retry
//	}
//	if callErr := call(addr); callErr != nil {
//	    sel.Failed(addr.Host, addr.Port)
//	} else {
//	    sel.Succeed(addr.Host, addr.Port)
//	}
package selector
