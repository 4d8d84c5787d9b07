// Package protocol implements the one-exchange-per-connection wire protocol
// between agents and the coordinator.
//
// A request is a single ASCII byte. '0' asks for the canonical plan, which
// is delimited only by the server closing the connection. '1' asks for the
// 64 hex character plan digest. Any other byte is answered by closing.
package protocol

import "yqhp/planfleet/internal/plan"

// Opcode is the single request byte.
type Opcode byte

const (
	// OpFetchPlan requests the full canonical plan.
	OpFetchPlan Opcode = '0'
	// OpFetchDigest requests only the plan digest.
	OpFetchDigest Opcode = '1'
)

// DigestLength is the exact size of a digest response.
const DigestLength = plan.DigestLength

// MaxPlanSize bounds how much a client reads for a plan response.
const MaxPlanSize = 16 << 20

// Valid reports whether op is a request the coordinator answers.
func (op Opcode) Valid() bool {
	return op == OpFetchPlan || op == OpFetchDigest
}

func (op Opcode) String() string {
	switch op {
	case OpFetchPlan:
		return "fetch-plan"
	case OpFetchDigest:
		return "fetch-digest"
	default:
		return "unknown"
	}
}
