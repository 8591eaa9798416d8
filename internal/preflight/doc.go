// Package preflight provides readiness checks for the external services
// and filesystem paths leadpipe depends on.
//
// These checks run in two contexts:
//   - "leadpipe check" prints every result and exits non-zero on failure.
//   - "leadpipe run" calls RunAll before starting the daemon and refuses to
//     start when a required check fails.
//
// Backend checks are gated by configuration: the redis ledger and kafka
// event checks only run when those backends are selected.
package preflight
