// Package api assembles the HTTP server: access logging, panic recovery, the
// request gate, probes, metrics, the JSON controllers under /api and the
// frontend bundle for every other path.
package api
