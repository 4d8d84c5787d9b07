package plan

import "fmt"

// Kind identifies which registered executor runs a task.
type Kind string

const (
	// KindNoop does nothing beyond an optional cancellable hold.
	KindNoop Kind = "Noop"
	// KindSleep sleeps for the configured duration.
	KindSleep Kind = "Sleep"
	// KindTCPConnect opens and closes a single TCP connection.
	KindTCPConnect Kind = "TCPConnect"
	// KindHTTPGet issues a single HTTP GET request.
	KindHTTPGet Kind = "HTTPGet"
)

var knownKinds = map[Kind]struct{}{
	KindNoop:       {},
	KindSleep:      {},
	KindTCPConnect: {},
	KindHTTPGet:    {},
}

// Kinds returns every kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindNoop, KindSleep, KindTCPConnect, KindHTTPGet}
}

// ParseKind validates s against the closed set of kinds.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := knownKinds[k]; !ok {
		return "", fmt.Errorf("unknown task kind %q", s)
	}
	return k, nil
}

// Valid reports whether k belongs to the closed set.
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

func (k Kind) String() string { return string(k) }
