// Package httpserver runs the control plane HTTP server with timeouts and
// graceful shutdown.
package httpserver
