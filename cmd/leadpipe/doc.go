// Package main hosts the leadpipe CLI entrypoint and command graph.
//
// The Cobra command tree runs the pipeline daemon, ingests post exports,
// drives recovery sweeps, and renders reports. Report commands read through
// the daemon's HTTP API when one is running and fall back to opening the
// queue database directly otherwise, so they work in both situations.
//
// Keep this package lean: new behavior belongs in the internal packages and
// is surfaced here through dedicated commands or flags.
package main
