/*
Package observability holds the run ledger and the Prometheus metrics.

The Ledger is an explicit object owned by the orchestrator and passed into
each transition; there is no global tracker state, so concurrent runs and
tests stay independent. Entries are append-only: routing decisions, timed
execution events, and decision-service call metadata.
*/
package observability
