/*
Package metrics implements the collection of the interception metrics
with Prometheus.

The collected metrics include the count of the intercepted, skipped and
filtered responses per handler, the count of the contained errors per
handler and kind, the time spent finalizing the intercepted responses, and
optionally the duration of serving the requests.

The command exposes the metrics on its support listener, under /metrics,
where the current values can be downloaded in the Prometheus exposition
format. Use RegisterHandler to mount them on another mux.
*/
package metrics
