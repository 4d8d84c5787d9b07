package plan

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// ParamParallelism is the parameter that sets how many concurrent
	// executions a task fans out to.
	ParamParallelism = "parallelism"
	// ParamThreads is the legacy spelling of ParamParallelism.
	ParamThreads = "threads"
)

// TaskSpec describes one task of a plan.
type TaskSpec struct {
	Kind       Kind
	Target     string
	Parameters map[string]any
	// StartTime is the UTC instant before which no execution may begin.
	StartTime time.Time
	// Parallelism is derived from the parameters and is always >= 1.
	Parallelism int
}

// NewTaskSpec builds a TaskSpec. A nil start means "now", evaluated here
// rather than when the task is scheduled. Parameters are normalized through
// the canonical codec so a constructed spec equals its decoded copy.
func NewTaskSpec(kind Kind, target string, params map[string]any, start *time.Time) (TaskSpec, error) {
	if !kind.Valid() {
		return TaskSpec{}, parseErr("attack_type", fmt.Errorf("unknown task kind %q", kind))
	}
	if target == "" {
		return TaskSpec{}, parseErr("target_ip", errMissing)
	}

	normalized, err := normalizeParams(params)
	if err != nil {
		return TaskSpec{}, parseErr("parameters", err)
	}
	parallelism, err := parallelismOf(normalized)
	if err != nil {
		return TaskSpec{}, err
	}

	startTime := time.Now().UTC()
	if start != nil {
		startTime = start.UTC()
	}

	return TaskSpec{
		Kind:        kind,
		Target:      target,
		Parameters:  normalized,
		StartTime:   startTime,
		Parallelism: parallelism,
	}, nil
}

// MustTaskSpec is NewTaskSpec for fixed, known-good inputs.
func MustTaskSpec(kind Kind, target string, params map[string]any, start *time.Time) TaskSpec {
	spec, err := NewTaskSpec(kind, target, params, start)
	if err != nil {
		panic(err)
	}
	return spec
}

// Param returns a parameter by name.
func (t TaskSpec) Param(name string) (any, bool) {
	v, ok := t.Parameters[name]
	return v, ok
}

// IntParam returns an integral parameter or def when it is absent.
func (t TaskSpec) IntParam(name string, def int) (int, error) {
	v, ok := t.Parameters[name]
	if !ok || v == nil {
		return def, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", name, err)
	}
	return n, nil
}

// DurationParam reads a parameter expressed in (possibly fractional) seconds.
func (t TaskSpec) DurationParam(name string, def time.Duration) (time.Duration, error) {
	v, ok := t.Parameters[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		if n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("parameter %s: invalid duration %v", name, n)
		}
		return time.Duration(n * float64(time.Second)), nil
	case string:
		if d, err := time.ParseDuration(n); err == nil {
			return d, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || f < 0 {
			return 0, fmt.Errorf("parameter %s: invalid duration %q", name, n)
		}
		return time.Duration(f * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("parameter %s: invalid duration %v", name, v)
	}
}

// StringParam returns a string parameter or def when it is absent.
func (t TaskSpec) StringParam(name, def string) string {
	if s, ok := t.Parameters[name].(string); ok {
		return s
	}
	return def
}

func parallelismOf(params map[string]any) (int, error) {
	key := ParamParallelism
	v, ok := params[key]
	if !ok {
		key = ParamThreads
		v, ok = params[key]
	}
	if !ok || v == nil {
		return 1, nil
	}

	field := "parameters." + key
	n, err := toInt(v)
	if err != nil {
		return 0, parseErr(field, err)
	}
	if n < 1 {
		return 0, parseErr(field, errBelowOne)
	}
	return n, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.Abs(n) > math.MaxInt32 {
			return 0, errNotInt
		}
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, errNotInt
		}
		return i, nil
	default:
		return 0, errNotInt
	}
}

func normalizeParams(params map[string]any) (map[string]any, error) {
	if len(params) == 0 {
		return map[string]any{}, nil
	}
	raw, err := canonical.Marshal(params)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := canonical.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
