/*
Package metrics is the prometheus-backed metrics collector for drivefs.

The Collector implements types.MetricsCollector, so the bridge session and
the drives record into it without knowing about prometheus. It owns a
private registry, so nothing leaks into the default registry; pkg/api
serves it over promhttp when the monitoring server is enabled.

# Series

	drivefs_operations_total{operation,status}     counter
	drivefs_operation_duration_seconds{operation}  histogram
	drivefs_operation_size_bytes{operation}        histogram
	drivefs_cache_requests_total{type}             counter (hit|miss)
	drivefs_cache_size_bytes                       gauge
	drivefs_drive_bytes_total{direction}           counter (read|write)
	drivefs_open_handles                           gauge
	drivefs_mounted                                gauge
	drivefs_errors_total{operation,category}       counter

Error categories come from the structured error type, so a not_found burst
is distinguishable from backend trouble without string matching.

Alongside the prometheus series the collector keeps a per-operation summary
map (count, error count, running averages) returned by GetMetrics and
served by the monitoring server at /debug/operations.
*/
package metrics
