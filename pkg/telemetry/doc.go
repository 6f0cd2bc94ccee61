// Package telemetry provides structured logging and metrics for portalctl.
// Logging is built on zerolog; metrics are Prometheus counters collected
// per run and per external command invocation.
package telemetry
