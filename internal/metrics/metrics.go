// Package metrics holds the daemon's process-wide counters and serves the
// "metrics" RPC method's JSON shape.
package metrics

import (
	"sync/atomic"
	"time"

	"agenttuid/internal/lockutil"
)

// Snapshot is the JSON payload returned by the metrics RPC method.
type Snapshot struct {
	RequestsTotal     int64 `json:"requests_total"`
	ErrorsTotal       int64 `json:"errors_total"`
	LockTimeouts      int64 `json:"lock_timeouts"`
	PoisonRecoveries  int64 `json:"poison_recoveries"`
	UptimeMs          int64 `json:"uptime_ms"`
	ActiveConnections int64 `json:"active_connections"`
	SessionCount      int64 `json:"session_count"`
}

// Registry accumulates the daemon's runtime counters. The lock-related
// counters are read straight from lockutil, which owns them, so every part
// of the process that acquires a lock through lockutil is reflected here
// without needing to report in separately.
type Registry struct {
	startedAt         time.Time
	requestsTotal     atomic.Int64
	errorsTotal       atomic.Int64
	activeConnections atomic.Int64
	sessionCount      atomic.Int64
}

// New creates a Registry whose uptime is measured from the moment of
// construction, i.e. daemon startup.
func New() *Registry {
	return &Registry{startedAt: time.Now()}
}

func (r *Registry) IncRequests()          { r.requestsTotal.Add(1) }
func (r *Registry) IncErrors()            { r.errorsTotal.Add(1) }
func (r *Registry) ConnectionOpened()     { r.activeConnections.Add(1) }
func (r *Registry) ConnectionClosed()     { r.activeConnections.Add(-1) }
func (r *Registry) SetSessionCount(n int) { r.sessionCount.Store(int64(n)) }

// Snapshot returns a point-in-time copy of every counter.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		RequestsTotal:     r.requestsTotal.Load(),
		ErrorsTotal:       r.errorsTotal.Load(),
		LockTimeouts:      lockutil.LockTimeouts(),
		PoisonRecoveries:  lockutil.PoisonRecoveries(),
		UptimeMs:          time.Since(r.startedAt).Milliseconds(),
		ActiveConnections: r.activeConnections.Load(),
		SessionCount:      r.sessionCount.Load(),
	}
}
