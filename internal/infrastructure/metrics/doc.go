// Package metrics exposes vdba connection events as Prometheus metrics.
//
// Collector implements vdba.Observer and maintains:
//
//	vdba_connection_events_total{driver,kind}
//	vdba_open_connections{driver}
//	vdba_open_duration_seconds{driver}
//	vdba_transaction_duration_seconds{driver,mode,outcome}
//	vdba_connection_up{connection,driver}
//
// The last is set by callers that probe connections, such as vdba watch.
package metrics
