/*
Package metrics provides Prometheus metrics for the SMACC cache engine.

# Overview

The Collector owns a private Prometheus registry and exports counters and
gauges for the cache policies, the eviction loop and the write-back queue,
plus per-operation latency histograms for the engine facade. A nil or
disabled Collector accepts every call and records nothing, so components take
an optional *Collector without guarding each call.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9100,
		Path:      "/metrics",
		Namespace: "smacc",
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

Start only serves HTTP when Port is positive; the server shuts down when ctx
is cancelled or Stop is called.

# Prometheus Metrics

Counters:
  - smacc_operations_total{operation,status}: engine operations
  - smacc_policy_events_total{event,tier}: notifications fanned out to policies
  - smacc_admissions_total{mode,location}: admission decisions
  - smacc_evictions_total{tier,action}: evictions by downgrade or delete
  - smacc_writeback_jobs_total{status}: finished write-back jobs
  - smacc_writeback_bytes_total: bytes pushed to cold storage
  - smacc_errors_total{operation,type}: errors labelled by cache error code

Histograms:
  - smacc_operation_duration_seconds{operation}
  - smacc_operation_size_bytes{operation}

Gauges:
  - smacc_writeback_queue_depth
  - smacc_tier_usage_bytes{tier}

# HTTP Endpoints

/metrics serves the registry, /health a static liveness document and
/debug/operations a plain text summary of RecordOperation calls.

# Thread Safety

All Collector methods are safe for concurrent use.
*/
package metrics
