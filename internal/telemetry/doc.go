// Package telemetry manages OpenTelemetry providers for assessd.
//
// It exports traces and metrics over OTLP to a collector. Telemetry
// failures never crash the daemon: a provider that cannot be initialized
// leaves the instance degraded and callers get no-op tracers and meters.
//
// Configuration:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  sampling:
//	    rate: 1.0
//	  metrics:
//	    enabled: true
//	    export_interval: "15s"
//
// Tests use TestTelemetry, which records spans in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "session.create")
//	span.End()
//	tt.AssertSpanExists(t, "session.create")
package telemetry
