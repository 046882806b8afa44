// Package sinks provides health.Sink implementations for logs and Prometheus.
package sinks
