// Package daemon hosts the long-running leadpipe process: it enforces a
// single instance with a file lock, starts the workflow manager and the
// recovery scheduler, and serves the read-only status API.
package daemon
