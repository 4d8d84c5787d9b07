package coordinator

import (
	"yqhp/planfleet/internal/plan"
)

// Snapshot is one published plan: its canonical bytes and their digest.
type Snapshot struct {
	Body   []byte
	Digest plan.Digest
	Tasks  int
}

// PlanProvider yields the plan to serve for each request.
type PlanProvider interface {
	Current() *Snapshot
}

// StaticPlan publishes one plan for the coordinator's lifetime.
type StaticPlan struct {
	snap *Snapshot
}

// NewSnapshot serializes p and computes its digest.
func NewSnapshot(p plan.Plan) (*Snapshot, error) {
	body, err := plan.Serialize(p)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Body: body, Digest: plan.DigestOf(body), Tasks: p.Len()}, nil
}

// NewStaticPlan returns a provider that always serves p.
func NewStaticPlan(p plan.Plan) (*StaticPlan, error) {
	snap, err := NewSnapshot(p)
	if err != nil {
		return nil, err
	}
	return &StaticPlan{snap: snap}, nil
}

// Current returns the published snapshot.
func (s *StaticPlan) Current() *Snapshot { return s.snap }
