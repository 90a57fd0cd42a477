// Package metrics keeps in-memory counters for tool invocations and
// remote-client traffic. Counters are atomic, never persisted, and reset
// only on process restart.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

type toolCounters struct {
	calls      atomic.Int64
	errors     atomic.Int64
	writeCalls atomic.Int64
	latencyMS  atomic.Int64
}

type remoteCounters struct {
	requests        atomic.Int64
	errors          atomic.Int64
	rateLimitEvents atomic.Int64
	timeouts        atomic.Int64
}

// Registry is the process-wide metrics store.
type Registry struct {
	start  time.Time
	tools  sync.Map // tool name -> *toolCounters
	remote remoteCounters
}

// NewRegistry builds a registry with the uptime clock started.
func NewRegistry() *Registry {
	return &Registry{start: time.Now()}
}

func (r *Registry) counters(tool string) *toolCounters {
	if c, ok := r.tools.Load(tool); ok {
		return c.(*toolCounters)
	}
	c, _ := r.tools.LoadOrStore(tool, &toolCounters{})
	return c.(*toolCounters)
}

// RecordCall registers one tool invocation outcome.
func (r *Registry) RecordCall(tool string, write bool, latency time.Duration, failed bool) {
	c := r.counters(tool)
	c.calls.Add(1)
	c.latencyMS.Add(latency.Milliseconds())
	if write {
		c.writeCalls.Add(1)
	}
	if failed {
		c.errors.Add(1)
	}
}

// RemoteRequest registers one outbound remote-client call.
func (r *Registry) RemoteRequest() {
	r.remote.requests.Add(1)
}

// RemoteFailure registers a failed remote-client call, flagging rate-limit
// and timeout events separately.
func (r *Registry) RemoteFailure(rateLimited, timedOut bool) {
	r.remote.errors.Add(1)
	if rateLimited {
		r.remote.rateLimitEvents.Add(1)
	}
	if timedOut {
		r.remote.timeouts.Add(1)
	}
}

// Uptime reports how long the registry (and so the process) has been up.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.start)
}

// ToolSnapshot is a point-in-time copy of one tool's counters.
type ToolSnapshot struct {
	CallsTotal      int64 `json:"calls_total"`
	ErrorsTotal     int64 `json:"errors_total"`
	WriteCallsTotal int64 `json:"write_calls_total"`
	LatencyMSSum    int64 `json:"latency_ms_sum"`
}

// RemoteSnapshot is a point-in-time copy of the remote-client counters.
type RemoteSnapshot struct {
	RequestsTotal        int64 `json:"requests_total"`
	ErrorsTotal          int64 `json:"errors_total"`
	RateLimitEventsTotal int64 `json:"rate_limit_events_total"`
	TimeoutsTotal        int64 `json:"timeouts_total"`
}

// Snapshot is the full registry state handed to the status endpoint.
type Snapshot struct {
	Tools  map[string]ToolSnapshot `json:"tools"`
	Remote RemoteSnapshot          `json:"remote"`
}

// Snapshot copies every counter. The copy is consistent per counter, not
// across counters; good enough for operator visibility.
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{Tools: make(map[string]ToolSnapshot)}
	r.tools.Range(func(key, value any) bool {
		c := value.(*toolCounters)
		snap.Tools[key.(string)] = ToolSnapshot{
			CallsTotal:      c.calls.Load(),
			ErrorsTotal:     c.errors.Load(),
			WriteCallsTotal: c.writeCalls.Load(),
			LatencyMSSum:    c.latencyMS.Load(),
		}
		return true
	})
	snap.Remote = RemoteSnapshot{
		RequestsTotal:        r.remote.requests.Load(),
		ErrorsTotal:          r.remote.errors.Load(),
		RateLimitEventsTotal: r.remote.rateLimitEvents.Load(),
		TimeoutsTotal:        r.remote.timeouts.Load(),
	}
	return snap
}
