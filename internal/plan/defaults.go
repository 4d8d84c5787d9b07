package plan

import "time"

// defaultStart is the epoch: already past, so default tasks start at once,
// and the default plan keeps the same digest across coordinator restarts.
var defaultStart = time.Unix(0, 0).UTC()

// Default returns the built-in plan served when no plan file can be loaded.
// Every task targets the loopback interface.
func Default() Plan {
	return New(
		MustTaskSpec(KindTCPConnect, "127.0.0.1", map[string]any{"port": 443, "timeout": 2}, &defaultStart),
		MustTaskSpec(KindNoop, "127.0.0.1", map[string]any{"duration": 5}, &defaultStart),
		MustTaskSpec(KindHTTPGet, "127.0.0.1", map[string]any{"port": 80, "path": "/", "timeout": 5}, &defaultStart),
	)
}
