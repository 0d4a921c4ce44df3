// Package internaldefs holds the metric names and histogram bounds shared by
// the Prometheus and OpenTelemetry exporters, so both publish identical
// series for the same engine.
//
// This package performs no I/O and imports no exporter package.
package internaldefs
