// Package callexec serializes outbound calls to a quota-constrained external
// API per credential.
//
// An Executor owns one lane per account. A lane admits one call at a time,
// lets priority callers jump ahead of ordinary waiters, and spaces attempts by
// a random interval drawn from the configured window, measured from the end of
// the previous attempt on that account. Each attempt is booked against the
// credential's daily quota through a Ledger before it is issued, and the
// credential is claimed with an operation id for the duration of Execute so
// other processes sharing the ledger cannot double-book it.
//
// Transient failures (rate limits, provider outages, timeouts) are retried
// with capped exponential backoff; provider Retry-After hints are honoured up
// to the cap. Permanent failures return immediately. An exhausted daily quota
// surfaces as services.ErrRateLimited without retrying inside the executor.
package callexec
