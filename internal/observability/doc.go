// Package observability provides structured logging and metrics for the
// compliance ledger.
//
// This package implements:
//   - zap loggers configured from LOG_LEVEL and LOG_FORMAT
//   - request-scoped logger fields (request id, organization, user)
//   - OpenTelemetry counters and histograms for evidence and export activity,
//     pushed over OTLP gRPC when an endpoint is configured
package observability
