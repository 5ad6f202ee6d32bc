// Package logger builds the structured slog logger used across the service,
// with a level that can be changed while running.
package logger
