// Package handler exposes a selector over HTTP: pool management, picking
// the next endpoint, outcome reports and per-endpoint state inspection.
package handler
