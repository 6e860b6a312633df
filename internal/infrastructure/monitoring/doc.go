/*
Package monitoring exposes Prometheus metrics for the sandbox server.

Metrics implements the observer hooks of the executor, the preview renderer
and the router, so wiring it in is a matter of passing it to each:

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	exec := sandbox.NewExecutor(sandbox.WithObserver(metrics))
	r, _ := router.New(router.WithExecutor(exec), router.WithObserver(metrics))
	engine.Use(monitoring.Middleware(metrics))

Snapshot returns a JSON-friendly summary for the stats endpoint; the full
set is served by promhttp on /metrics.
*/
package monitoring
