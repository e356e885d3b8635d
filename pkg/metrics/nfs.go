package metrics

import "time"

// ClientMetrics observes NFS client requests.
//
// Implementations can collect per-procedure latency, outcome and throughput.
// Pass nil to disable collection.
type ClientMetrics interface {
	// RecordRequest records a completed request.
	//
	// Parameters:
	//   - procedure: NFS or MOUNT procedure name (e.g., "LOOKUP", "READ", "MNT")
	//   - export: exported directory the client is mounted on
	//   - duration: round-trip time
	//   - status: "NFS3_OK", an NFS3ERR_* name, or "RPC_ERROR"
	RecordRequest(procedure, export string, duration time.Duration, status string)

	// RecordBytes records payload bytes moved by READ or WRITE.
	RecordBytes(procedure, export string, bytes uint64)
}

var newClientMetrics func() ClientMetrics

// RegisterClientMetricsConstructor is called by the Prometheus
// implementation during package initialization.
func RegisterClientMetricsConstructor(constructor func() ClientMetrics) {
	newClientMetrics = constructor
}

// NewClientMetrics returns the registered implementation, or nil when
// metrics are disabled.
func NewClientMetrics() ClientMetrics {
	if !IsEnabled() || newClientMetrics == nil {
		return nil
	}
	return newClientMetrics()
}
