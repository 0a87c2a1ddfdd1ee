/*
Package monitoring provides Prometheus metrics for the fetch service.

Metrics live on their own registry, so several instances can coexist in
tests. *Metrics is passed to the pipeline as its observer and to the
browser as its subrequest hook.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", monitoring.Handler(metrics))

# Metrics

  - webfetch_requests_total{method,outcome}
  - webfetch_request_duration_seconds{method}
  - webfetch_cache_events_total{event}
  - webfetch_robots_decisions_total{decision}
  - webfetch_subrequests_total{type,result}
  - webfetch_http_* for the API itself
*/
package monitoring
