package coordinator

import "sync/atomic"

// Stats counts coordinator traffic.
type Stats struct {
	connections    atomic.Int64
	planRequests   atomic.Int64
	digestRequests atomic.Int64
	rejected       atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Connections    int64 `json:"connections"`
	PlanRequests   int64 `json:"plan_requests"`
	DigestRequests int64 `json:"digest_requests"`
	Rejected       int64 `json:"rejected"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Connections:    s.connections.Load(),
		PlanRequests:   s.planRequests.Load(),
		DigestRequests: s.digestRequests.Load(),
		Rejected:       s.rejected.Load(),
	}
}
