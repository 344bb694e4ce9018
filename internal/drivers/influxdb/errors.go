package influxdb

import "errors"

// Sentinel errors for InfluxDB operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, influxdb.ErrWriteFailed) {
//	    // points were not stored
//	}
var (
	// ErrConnectionFailed indicates the server could not be reached or
	// reported itself unhealthy when the session opened.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed indicates the server rejected a write.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrQueryFailed indicates a Flux query failed.
	ErrQueryFailed = errors.New("influxdb: query failed")
)
