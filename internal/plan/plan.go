package plan

import (
	"errors"
	"fmt"
)

// Plan is an ordered list of tasks. Order is execution order.
type Plan struct {
	Tasks []TaskSpec
}

// New returns a plan over tasks in the given order.
func New(tasks ...TaskSpec) Plan {
	return Plan{Tasks: tasks}
}

// Len returns the number of tasks.
func (p Plan) Len() int { return len(p.Tasks) }

// Validate checks the invariants every distributable plan holds. Every field
// of a valid task is carried by its encoding, so a valid plan keeps its
// digest across a serialize/deserialize round trip.
func (p Plan) Validate() error {
	for i, t := range p.Tasks {
		prefix := fmt.Sprintf("attacks[%d]", i)
		if !t.Kind.Valid() {
			return parseErr(prefix+".attack_type", fmt.Errorf("unknown task kind %q", t.Kind))
		}
		if t.Target == "" {
			return parseErr(prefix+".target_ip", errMissing)
		}
		if t.StartTime.IsZero() {
			return parseErr(prefix+".start_time", errMissing)
		}
		if t.Parallelism < 1 {
			return parseErr(prefix+".parameters.parallelism", errBelowOne)
		}
		want, err := parallelismOf(t.Parameters)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				return parseErr(prefix+"."+pe.Field, pe.Err)
			}
			return err
		}
		if t.Parallelism != want {
			return parseErr(prefix+".parameters.parallelism",
				fmt.Errorf("%w: task has %d, parameters give %d", errMismatch, t.Parallelism, want))
		}
	}
	return nil
}

// Digest serializes p canonically and hashes the result.
func (p Plan) Digest() (Digest, error) {
	b, err := Serialize(p)
	if err != nil {
		return "", err
	}
	return DigestOf(b), nil
}
