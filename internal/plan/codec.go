package plan

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// canonical sorts map keys and never escapes HTML, so equal content always
// encodes to identical bytes.
var canonical = sonic.Config{
	SortMapKeys:    true,
	EscapeHTML:     false,
	ValidateString: true,
}.Froze()

// Struct fields are declared in key order: the canonical form sorts every
// object, including these.
type wirePlan struct {
	Attacks []wireTask `json:"attacks"`
}

type wireTask struct {
	AttackType string         `json:"attack_type"`
	Parameters map[string]any `json:"parameters"`
	StartTime  string         `json:"start_time"`
	TargetIP   string         `json:"target_ip"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// FormatTime renders t the way the canonical encoding does.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime accepts RFC 3339 and offset-less ISO 8601 timestamps. The latter
// are taken to be UTC.
func ParseTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Serialize renders p in canonical form: sorted keys, no whitespace.
func Serialize(p Plan) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	out := wirePlan{Attacks: make([]wireTask, 0, len(p.Tasks))}
	for _, t := range p.Tasks {
		params := t.Parameters
		if params == nil {
			params = map[string]any{}
		}
		out.Attacks = append(out.Attacks, wireTask{
			AttackType: string(t.Kind),
			Parameters: params,
			StartTime:  FormatTime(t.StartTime),
			TargetIP:   t.Target,
		})
	}

	b, err := canonical.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("serialize plan: %w", err)
	}
	return b, nil
}

// Deserialize decodes a plan. Every failure is a *ParseError naming the
// offending field.
func Deserialize(data []byte) (Plan, error) {
	var root any
	if err := canonical.Unmarshal(data, &root); err != nil {
		return Plan{}, parseErr("", fmt.Errorf("malformed JSON: %w", err))
	}
	obj, ok := root.(map[string]any)
	if !ok {
		return Plan{}, parseErr("", fmt.Errorf("top level must be an object"))
	}
	rawTasks, ok := obj["attacks"]
	if !ok {
		return Plan{}, parseErr("attacks", errMissing)
	}
	list, ok := rawTasks.([]any)
	if !ok {
		return Plan{}, parseErr("attacks", fmt.Errorf("must be an array"))
	}

	tasks := make([]TaskSpec, 0, len(list))
	for i, raw := range list {
		t, err := decodeTask(i, raw)
		if err != nil {
			return Plan{}, err
		}
		tasks = append(tasks, t)
	}
	return Plan{Tasks: tasks}, nil
}

func decodeTask(i int, raw any) (TaskSpec, error) {
	prefix := fmt.Sprintf("attacks[%d]", i)
	obj, ok := raw.(map[string]any)
	if !ok {
		return TaskSpec{}, parseErr(prefix, fmt.Errorf("must be an object"))
	}

	kindStr, err := requiredString(obj, prefix, "attack_type")
	if err != nil {
		return TaskSpec{}, err
	}
	kind, err := ParseKind(kindStr)
	if err != nil {
		return TaskSpec{}, parseErr(prefix+".attack_type", err)
	}
	target, err := requiredString(obj, prefix, "target_ip")
	if err != nil {
		return TaskSpec{}, err
	}

	params := map[string]any{}
	switch p := obj["parameters"].(type) {
	case nil:
	case map[string]any:
		params = p
	default:
		return TaskSpec{}, parseErr(prefix+".parameters", fmt.Errorf("must be an object"))
	}

	var start *time.Time
	switch s := obj["start_time"].(type) {
	case nil:
	case string:
		t, err := ParseTime(s)
		if err != nil {
			return TaskSpec{}, parseErr(prefix+".start_time", err)
		}
		start = &t
	default:
		return TaskSpec{}, parseErr(prefix+".start_time", fmt.Errorf("must be a string or null"))
	}

	parallelism, err := parallelismOf(params)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			return TaskSpec{}, parseErr(prefix+"."+pe.Field, pe.Err)
		}
		return TaskSpec{}, err
	}

	startTime := time.Now().UTC()
	if start != nil {
		startTime = *start
	}
	return TaskSpec{
		Kind:        kind,
		Target:      target,
		Parameters:  params,
		StartTime:   startTime,
		Parallelism: parallelism,
	}, nil
}

func requiredString(obj map[string]any, prefix, key string) (string, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return "", parseErr(prefix+"."+key, errMissing)
	}
	s, ok := v.(string)
	if !ok {
		return "", parseErr(prefix+"."+key, fmt.Errorf("must be a string"))
	}
	if s == "" {
		return "", parseErr(prefix+"."+key, errMissing)
	}
	return s, nil
}
