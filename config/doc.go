// Package config loads the selector service configuration from an optional
// YAML file, environment variables and command-line flags, validates it and
// watches the file for changes to the endpoint pool.
package config
