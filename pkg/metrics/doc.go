/*
Package metrics provides Prometheus metrics and health checking for
the Burrow server.

Engine subsystems update counters and gauges as they work: the page
cache reports residency and faults, the write-ahead log reports
appends and bytes, the version manager reports transactions and
deadlocks, and the server reports sessions and per-verb statement
counts. Handler exposes the registry for a /metrics endpoint; the
health registry backs /health, /ready and /live.

The metrics listener is optional; when the server runs without one,
the counters still update and simply go unscraped.
*/
package metrics
