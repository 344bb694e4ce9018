// Package influxdb provides the "influxdb" column store driver for vdba,
// built on the InfluxDB v2 client (github.com/influxdata/influxdb-client-go/v2).
//
// Options:
//
//	url      server URL, e.g. http://127.0.0.1:8086 (required)
//	token    API token
//	org      organisation (required)
//	bucket   bucket points are written to (required)
//	timeout  HTTP request timeout, default 10s
//
// The database handle is a *Bucket. Outside a transaction every write is a
// blocking request. InfluxDB has no transactions, so the driver provides a
// write batch instead: points written inside RunTransaction are buffered
// and sent in a single request on commit, or dropped on rollback. Queries
// always read committed data.
//
// Read-only connections refuse writes with vdba.ErrReadOnly.
package influxdb
