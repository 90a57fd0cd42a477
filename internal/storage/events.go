package storage

import "time"

// EventWriter is the interface for persisting tool invocation events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *InvocationEvent)
	Close()
}

// InvocationEvent represents a single dispatched tool call to be persisted.
type InvocationEvent struct {
	RequestID  string
	Timestamp  time.Time
	Caller     string
	Tool       string
	Capability string // "read" or "write"
	Repo       string
	Ref        string
	Outcome    string // "ok" or the fault category
	ErrorCode  string
	Retryable  bool
	LatencyMs  float32
	Source     string
}
