package tools

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdaptivMCP/gitward/internal/fault"
	"github.com/AdaptivMCP/gitward/internal/metrics"
	"github.com/AdaptivMCP/gitward/internal/storage"
)

// Dispatcher routes named calls into registered tools: validate the
// arguments against the tool's schema, run the handler, and record the
// outcome in metrics, logs, and the invocation event stream.
type Dispatcher struct {
	registry *Registry
	metrics  *metrics.Registry
	events   storage.EventWriter
	logger   *zap.Logger
	source   string
}

// DispatcherConfig wires a Dispatcher. Metrics and Events may be nil.
type DispatcherConfig struct {
	Registry *Registry
	Metrics  *metrics.Registry
	Events   storage.EventWriter
	Logger   *zap.Logger
	// Source labels where calls enter from, e.g. "http".
	Source string
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	source := cfg.Source
	if source == "" {
		source = "http"
	}
	return &Dispatcher{
		registry: cfg.Registry,
		metrics:  cfg.Metrics,
		events:   cfg.Events,
		logger:   logger,
		source:   source,
	}
}

// CallResult reports one dispatched call. RequestID is always set, even
// when the call failed.
type CallResult struct {
	RequestID  string     `json:"request_id"`
	Tool       string     `json:"tool"`
	Capability Capability `json:"capability,omitempty"`
	LatencyMs  float32    `json:"latency_ms"`
	Result     any        `json:"result,omitempty"`
}

// Dispatch validates and executes one call. The returned CallResult is
// never nil; on error it carries the request id and latency but no
// result.
func (d *Dispatcher) Dispatch(ctx context.Context, caller, tool string, args map[string]any) (*CallResult, error) {
	start := time.Now()
	res := &CallResult{
		RequestID: uuid.New().String(),
		Tool:      tool,
	}

	desc, ok := d.registry.Get(tool)
	if !ok {
		res.LatencyMs = latencySince(start)
		err := fault.New(fault.Validation, "unknown_tool", "no tool named %q is registered", tool).
			WithHint("list the catalog to see the available tools")
		d.logger.Warn("unknown tool requested",
			zap.String("request_id", res.RequestID),
			zap.String("caller", caller),
			zap.String("tool", tool),
		)
		d.writeEvent(res, caller, args, err)
		return res, err
	}

	res.Capability = desc.EffectiveCapability(args)

	var result any
	err := desc.validate(args)
	if err == nil {
		result, err = desc.Handler(ctx, args)
	}

	res.Result = result
	res.LatencyMs = latencySince(start)

	if d.metrics != nil {
		d.metrics.RecordCall(tool, res.Capability == CapabilityWrite, time.Since(start), err != nil)
	}
	d.writeEvent(res, caller, args, err)

	if err != nil {
		d.logger.Warn("tool call failed",
			zap.String("request_id", res.RequestID),
			zap.String("caller", caller),
			zap.String("tool", tool),
			zap.String("capability", string(res.Capability)),
			zap.Float32("latency_ms", res.LatencyMs),
			zap.Error(err),
		)
		return res, err
	}

	d.logger.Info("tool call",
		zap.String("request_id", res.RequestID),
		zap.String("caller", caller),
		zap.String("tool", tool),
		zap.String("capability", string(res.Capability)),
		zap.Float32("latency_ms", res.LatencyMs),
	)
	return res, nil
}

// writeEvent is fire-and-forget: the writer buffers internally and never
// blocks dispatch.
func (d *Dispatcher) writeEvent(res *CallResult, caller string, args map[string]any, err error) {
	if d.events == nil {
		return
	}

	outcome := "ok"
	var code string
	var retryable bool
	if err != nil {
		outcome = "error"
		if f, isFault := fault.From(err); isFault {
			outcome = string(f.Category)
			code = f.Code
			retryable = f.Retryable
		}
	}

	d.events.Write(&storage.InvocationEvent{
		RequestID:  res.RequestID,
		Timestamp:  time.Now(),
		Caller:     caller,
		Tool:       res.Tool,
		Capability: string(res.Capability),
		Repo:       stringArg(args, "full_name"),
		Ref:        firstStringArg(args, "ref", "branch"),
		Outcome:    outcome,
		ErrorCode:  code,
		Retryable:  retryable,
		LatencyMs:  res.LatencyMs,
		Source:     d.source,
	})
}

func latencySince(start time.Time) float32 {
	return float32(float64(time.Since(start)) / float64(time.Millisecond))
}

func stringArg(args map[string]any, key string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}

func firstStringArg(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringArg(args, k); s != "" {
			return s
		}
	}
	return ""
}
