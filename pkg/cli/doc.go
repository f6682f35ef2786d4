// Package cli wires the orders binary: the cobra command tree, environment
// and .env handling, logger setup, and the Build step that assembles the
// store, limiters, audit sinks, gate and HTTP server from a config.Config.
package cli
