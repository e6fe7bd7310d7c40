// Package telemetry provides logging, tracing and metrics for sl-pkg.
//
// Logging uses zerolog, console formatted on stderr unless LOG_FORMAT=json.
// Each invocation gets a run ID that is attached to every log line and
// stored with ledger history events.
//
// Tracing uses OpenTelemetry with an otlp (gRPC), stdout or none exporter.
// One span covers each package operation, with a child span per
// lifecycle step.
//
// sl-pkg is a short-lived CLI, so metrics are not served over HTTP.
// They are collected in a private Prometheus registry and written on
// shutdown to METRICS_TEXTFILE for the node_exporter textfile collector.
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
package telemetry
