// Package config loads the server configuration from a YAML file, applies
// environment variable overrides and fills in defaults. Validate reports every
// setting that production cannot run without.
package config
