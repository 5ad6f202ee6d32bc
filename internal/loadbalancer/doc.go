// Package loadbalancer drives outbound calls through a selector: it picks
// an endpoint, runs the call, reports the outcome and retries on another
// endpoint when the call fails.
package loadbalancer
