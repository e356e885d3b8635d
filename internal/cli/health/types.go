// Package health provides the shared shape of health check responses served
// next to /metrics while a transfer runs.
package health

// Status values.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Response represents the health endpoint payload.
type Response struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Data      *Data  `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Data describes the running process and its blocking-call pool.
type Data struct {
	Service   string `json:"service"`
	Version   string `json:"version,omitempty"`
	StartedAt string `json:"started_at"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_sec"`
	Pool      *Pool  `json:"pool,omitempty"`
}

// Pool mirrors blocking.Stats.
type Pool struct {
	Workers   int    `json:"workers"`
	Pending   int    `json:"pending"`
	Running   int    `json:"running"`
	Completed uint64 `json:"completed"`
	Panicked  uint64 `json:"panicked"`
	LastError string `json:"last_error,omitempty"`
}
