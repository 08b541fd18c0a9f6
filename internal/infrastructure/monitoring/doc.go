/*
Package monitoring provides Prometheus metrics for both server variants.

Every Metrics value owns its registry. Servers record registrations,
session outcomes per transport, worker liveness and per-vector classify
latency. An optional gin server exposes the registry:

	metrics := monitoring.NewMetrics()
	srv := monitoring.NewServer("127.0.0.1:9105", metrics)
	go srv.Start()

	timer := monitoring.NewTimer(metrics, monitoring.TransportPipe)
	// ... classify ...
	timer.Stop()

GET /metrics serves the Prometheus exposition format and GET /health
returns a JSON snapshot.
*/
package monitoring
