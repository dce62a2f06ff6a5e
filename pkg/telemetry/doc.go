// Package telemetry provides structured logging, Prometheus metrics, and
// OpenTelemetry tracing for Gantry.
//
// Logging is built on zerolog with component child loggers and context
// plumbing. Metrics cover the reconciliation pipeline: plans computed, drift
// classifications, corrective actions, and render/assembly durations.
// Tracing supports OTLP and stdout exporters with configurable sampling.
//
// All instrumentation is passive: nothing here starts background work beyond
// the optional metrics HTTP listener the caller asks for.
package telemetry
