package flow

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/veka-server/ClaraVerse-sub006/pkg/logging"
	"github.com/veka-server/ClaraVerse-sub006/pkg/modelclient"
)

// Node states within a run. There is no failed state: a failing node
// completes with an error-shaped value.
const (
	StatusPending   = "pending"
	StatusSkipped   = "skipped"
	StatusRunning   = "running"
	StatusCompleted = "completed"
)

// Run states.
const (
	RunCompleted = "completed"
	RunCancelled = "cancelled"
)

// Engine walks a plan and dispatches each node to its registered executor.
type Engine struct {
	registry *Registry
	models   modelclient.Provider
	api      modelclient.Config
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithModels sets the model client provider handed to AI-capable nodes.
func WithModels(p modelclient.Provider) EngineOption {
	return func(e *Engine) { e.models = p }
}

// WithAPIConfig sets the run-wide default API configuration.
func WithAPIConfig(cfg modelclient.Config) EngineOption {
	return func(e *Engine) { e.api = cfg }
}

// NewEngine creates an Engine with the given executor registry.
func NewEngine(registry *Registry, opts ...EngineOption) *Engine {
	e := &Engine{registry: registry}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's executor registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// RunOptions carries the per-run hooks and seed state.
type RunOptions struct {
	// Emit receives partial output. It is called synchronously and must not block.
	Emit EmitFunc
	// OnStep observes node state transitions.
	OnStep func(Step)
	// Seed pre-populates the output table; skipped nodes keep these values.
	Seed OutputTable
	// API overrides the engine's default API configuration for this run.
	API *modelclient.Config
}

// Step records what happened to one node.
type Step struct {
	StepNumber int    `json:"stepNumber"`
	NodeID     string `json:"nodeId"`
	NodeType   string `json:"nodeType"`
	Label      string `json:"label,omitempty"`
	Status     string `json:"status"`
	Failed     bool   `json:"failed,omitempty"`
	Duration   int64  `json:"duration"`
	Timestamp  string `json:"timestamp,omitempty"`
	Output     any    `json:"output,omitempty"`
}

// RunResult is returned after a run.
type RunResult struct {
	RunID         string      `json:"runId"`
	Status        string      `json:"status"`
	StartTime     string      `json:"startTime"`
	EndTime       string      `json:"endTime"`
	TotalDuration int64       `json:"totalDuration"`
	Steps         []Step      `json:"steps"`
	Outputs       OutputTable `json:"outputs"`
	// Configs holds each node's config as it stood when the run ended,
	// including state executors memoised into it.
	Configs map[string]map[string]any `json:"configs,omitempty"`
}

// Run plans g and executes it. Planning errors are returned before any node runs.
func (e *Engine) Run(ctx context.Context, g *Graph, opts RunOptions) (*RunResult, error) {
	plan, err := NewPlan(g)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, plan, opts), nil
}

// Execute runs every plan entry in order. A node's failure never aborts the
// run; cancellation of ctx stops scheduling between nodes.
func (e *Engine) Execute(ctx context.Context, plan *Plan, opts RunOptions) *RunResult {
	runID := uuid.New().String()
	logger := logging.FromContext(ctx).With("runId", runID)
	startTime := time.Now()

	api := e.api
	if opts.API != nil {
		api = *opts.API
	}

	outputs := OutputTable{}
	if opts.Seed != nil {
		outputs = opts.Seed.Clone()
	}

	steps := make([]Step, len(plan.Order))
	for i, id := range plan.Order {
		node := plan.Node(id)
		steps[i] = Step{StepNumber: i + 1, NodeID: id, NodeType: node.Type, Label: node.Label, Status: StatusPending}
	}

	notify := func(s Step) {
		if opts.OnStep != nil {
			opts.OnStep(s)
		}
	}

	skipped := make(map[string]bool)
	decisions := make(map[string]bool)
	status := RunCompleted

	for i, id := range plan.Order {
		if err := ctx.Err(); err != nil {
			logger.Info("Run cancelled", "remaining", len(plan.Order)-i, "error", err)
			status = RunCancelled
			break
		}

		node := plan.Node(id)
		step := &steps[i]

		inputs, active := e.resolveInputs(plan, id, outputs, skipped, decisions)
		if !active {
			logger.Debug("Skipping node on unselected branch", "nodeId", id)
			skipped[id] = true
			step.Status = StatusSkipped
			step.Timestamp = time.Now().UTC().Format(time.RFC3339)
			notify(*step)
			continue
		}

		step.Status = StatusRunning
		notify(*step)

		ec := &ExecContext{
			Node:   node,
			Inputs: inputs,
			Models: e.models,
			API:    api,
			Logger: logger.With("nodeId", id, "nodeType", node.Type),
			emit:   opts.Emit,
		}

		nodeStart := time.Now()
		var res Result
		if exec, ok := e.registry.Lookup(node.Type); ok {
			logger.Debug("Executing node", "nodeId", id, "nodeType", node.Type)
			res = invoke(ctx, exec, ec)
		} else {
			logger.Warn("No executor registered", "nodeId", id, "nodeType", node.Type)
			res = Errorf("unsupported node type %s", node.Type)
		}

		if res.Branch != nil {
			decisions[id] = *res.Branch
			res = res.WithPort(armPort(*res.Branch), res.Value)
		}
		outputs.record(id, res)

		step.Status = StatusCompleted
		step.Failed = res.Failed || IsErrorValue(res.Value)
		step.Duration = time.Since(nodeStart).Milliseconds()
		step.Timestamp = time.Now().UTC().Format(time.RFC3339)
		step.Output = res.Value
		notify(*step)
	}

	endTime := time.Now()
	logger.Info("Run finished", "status", status, "nodes", len(plan.Order), "duration", endTime.Sub(startTime))

	return &RunResult{
		RunID:         runID,
		Status:        status,
		StartTime:     startTime.UTC().Format(time.RFC3339),
		EndTime:       endTime.UTC().Format(time.RFC3339),
		TotalDuration: endTime.Sub(startTime).Milliseconds(),
		Steps:         steps,
		Outputs:       outputs,
		Configs:       snapshotConfigs(plan),
	}
}

// snapshotConfigs copies every non-empty node config one level deep.
func snapshotConfigs(plan *Plan) map[string]map[string]any {
	configs := make(map[string]map[string]any)
	for _, id := range plan.Order {
		if cfg := plan.Node(id).Config; len(cfg) > 0 {
			configs[id] = maps.Clone(cfg)
		}
	}
	return configs
}

// resolveInputs gathers the values wired into id and reports whether the
// node is reachable through at least one active edge. Nodes without
// incoming edges are always active.
func (e *Engine) resolveInputs(plan *Plan, id string, outputs OutputTable, skipped, decisions map[string]bool) (Inputs, bool) {
	wires := plan.Wiring[id]
	inputs := make(Inputs, len(wires))
	if len(wires) == 0 {
		return inputs, true
	}

	active := false
	for _, w := range wires {
		if edgeActive(w, skipped, decisions) {
			active = true
		}
		if v, ok := lookupWire(outputs, w, decisions); ok {
			inputs[w.Port] = v
		}
	}
	return inputs, active
}

func edgeActive(w Wire, skipped, decisions map[string]bool) bool {
	if skipped[w.SourceNode] {
		return false
	}
	if decision, ok := decisions[w.SourceNode]; ok && isArm(w.SourcePort) {
		return w.SourcePort == armPort(decision)
	}
	return true
}

// lookupWire reads the source port, falling back to the source's default
// value for ports the executor did not publish. An arm falls back only when
// the source made no decision, which is how a failed conditional hands its
// error value to both arms.
func lookupWire(outputs OutputTable, w Wire, decisions map[string]bool) (any, bool) {
	if v, ok := outputs.Get(w.SourceNode, w.SourcePort); ok {
		return v, true
	}
	if _, decided := decisions[w.SourceNode]; decided && isArm(w.SourcePort) {
		return nil, false
	}
	return outputs.Value(w.SourceNode)
}

func armPort(decision bool) string {
	if decision {
		return PortTrue
	}
	return PortFalse
}

// invoke calls exec, converting a panic into an error value.
func invoke(ctx context.Context, exec Executor, ec *ExecContext) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			ec.Logger.Error("Executor panicked", "panic", r)
			res = Errorf("node %s panicked: %v", ec.Node.ID, r)
		}
	}()
	return exec.Execute(ctx, ec)
}

// String summarises the result for logs and CLI output.
func (r *RunResult) String() string {
	return fmt.Sprintf("run %s %s (%d nodes, %dms)", r.RunID, r.Status, len(r.Steps), r.TotalDuration)
}
