package scheduler

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// LatencySummary condenses one task's execution latencies.
type LatencySummary struct {
	P50  time.Duration
	P95  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// TaskReport describes how one task spec went.
type TaskReport struct {
	Index       int
	Kind        string
	Target      string
	Parallelism int
	Executions  int
	Failures    int
	Cancelled   int
	Latency     LatencySummary
	Duration    time.Duration
}

// RunReport describes one plan run.
type RunReport struct {
	RunID     string
	Started   time.Time
	Finished  time.Time
	Tasks     []TaskReport
	Completed bool
}

// Failures sums failed executions across tasks.
func (r *RunReport) Failures() int {
	n := 0
	for _, t := range r.Tasks {
		n += t.Failures
	}
	return n
}

// latencies records execution durations in microseconds, up to one hour.
type latencies struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

func newLatencies() *latencies {
	return &latencies{hist: hdrhistogram.New(1, int64(time.Hour/time.Microsecond), 3)}
}

func (l *latencies) record(d time.Duration) {
	us := d.Microseconds()
	if us < 1 {
		us = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if hi := l.hist.HighestTrackableValue(); us > hi {
		us = hi
	}
	_ = l.hist.RecordValue(us)
}

func (l *latencies) summary() LatencySummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hist.TotalCount() == 0 {
		return LatencySummary{}
	}
	return LatencySummary{
		P50:  time.Duration(l.hist.ValueAtQuantile(50)) * time.Microsecond,
		P95:  time.Duration(l.hist.ValueAtQuantile(95)) * time.Microsecond,
		Max:  time.Duration(l.hist.Max()) * time.Microsecond,
		Mean: time.Duration(l.hist.Mean()) * time.Microsecond,
	}
}
