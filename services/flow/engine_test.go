package flow

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder registers executors that log their invocations.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) wrap(fn ExecutorFunc) ExecutorFunc {
	return func(ctx context.Context, ec *ExecContext) Result {
		r.mu.Lock()
		r.calls = append(r.calls, ec.Node.ID)
		r.mu.Unlock()
		return fn(ctx, ec)
	}
}

func (r *recorder) called(id string) bool {
	for _, c := range r.calls {
		if c == id {
			return true
		}
	}
	return false
}

func testRegistry(rec *recorder) *Registry {
	reg := NewRegistry()
	reg.Register("source", rec.wrap(func(_ context.Context, ec *ExecContext) Result {
		return Ok(ec.ConfigString("text"))
	}))
	reg.Register("append", rec.wrap(func(_ context.Context, ec *ExecContext) Result {
		return Ok(ec.Inputs.Text("text-in", "text", DefaultPort) + ec.ConfigString("suffix"))
	}))
	reg.Register("contains", rec.wrap(func(_ context.Context, ec *ExecContext) Result {
		in := ec.Inputs.Text(DefaultPort)
		return Branching(in, strings.Contains(in, ec.ConfigString("needle")))
	}))
	reg.Register("fail", rec.wrap(func(_ context.Context, ec *ExecContext) Result {
		return Errorf("boom")
	}))
	reg.Register("panic", rec.wrap(func(_ context.Context, ec *ExecContext) Result {
		panic("unexpected")
	}))
	reg.Register("join", rec.wrap(func(_ context.Context, ec *ExecContext) Result {
		return Ok(ec.Inputs.Text("top-in") + "|" + ec.Inputs.Text("bottom-in"))
	}))
	return reg
}

func branchGraph(needle string) *Graph {
	return &Graph{
		Nodes: []Node{
			{ID: "a", Type: "source", Config: map[string]any{"text": "hello"}},
			{ID: "cond", Type: "contains", Config: map[string]any{"needle": needle}},
			{ID: "yes", Type: "append", Config: map[string]any{"suffix": " yes"}},
			{ID: "no", Type: "append", Config: map[string]any{"suffix": " no"}},
			{ID: "after-yes", Type: "append"},
		},
		Edges: []Edge{
			{Source: "a", Target: "cond"},
			{Source: "cond", SourceHandle: PortTrue, Target: "yes"},
			{Source: "cond", SourceHandle: PortFalse, Target: "no"},
			{Source: "yes", Target: "after-yes"},
		},
	}
}

func TestEngine_LinearPropagation(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(testRegistry(rec))

	g := &Graph{
		Nodes: []Node{
			{ID: "out", Type: "append"},
			{ID: "in", Type: "source", Config: map[string]any{"text": "hello"}},
			{ID: "mid", Type: "append", Config: map[string]any{"suffix": " world"}},
		},
		Edges: []Edge{
			{Source: "in", Target: "mid", TargetHandle: "text-in"},
			{Source: "mid", Target: "out"},
		},
	}

	res, err := engine.Run(context.Background(), g, RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, RunCompleted, res.Status)
	assert.Equal(t, []string{"in", "mid", "out"}, rec.calls)
	v, ok := res.Outputs.Value("out")
	require.True(t, ok)
	assert.Equal(t, "hello world", v)
	assert.NotEmpty(t, res.RunID)
	for i, step := range res.Steps {
		assert.Equal(t, i+1, step.StepNumber)
		assert.Equal(t, StatusCompleted, step.Status)
	}
}

func TestEngine_BranchSuppression(t *testing.T) {
	tests := []struct {
		name     string
		needle   string
		ran      []string
		notRan   []string
		selected string
	}{
		{"predicate true", "ell", []string{"yes", "after-yes"}, []string{"no"}, PortTrue},
		{"predicate false", "xyz", []string{"no"}, []string{"yes", "after-yes"}, PortFalse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			engine := NewEngine(testRegistry(rec))

			res, err := engine.Run(context.Background(), branchGraph(tt.needle), RunOptions{})
			require.NoError(t, err)

			for _, id := range tt.ran {
				assert.True(t, rec.called(id), "%s should run", id)
			}
			for _, id := range tt.notRan {
				assert.False(t, rec.called(id), "%s should not run", id)
				_, ok := res.Outputs.Value(id)
				assert.False(t, ok, "%s should have no output", id)
			}

			v, ok := res.Outputs.Get("cond", tt.selected)
			require.True(t, ok)
			assert.Equal(t, "hello", v, "conditional passes its input through")
		})
	}
}

func TestEngine_SkippedStepsAreReported(t *testing.T) {
	engine := NewEngine(testRegistry(&recorder{}))

	res, err := engine.Run(context.Background(), branchGraph("xyz"), RunOptions{})
	require.NoError(t, err)

	statuses := map[string]string{}
	for _, s := range res.Steps {
		statuses[s.NodeID] = s.Status
	}
	assert.Equal(t, StatusSkipped, statuses["yes"])
	assert.Equal(t, StatusSkipped, statuses["after-yes"])
	assert.Equal(t, StatusCompleted, statuses["no"])
}

func TestEngine_JoinReachableThroughOtherPathRuns(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(testRegistry(rec))

	g := branchGraph("xyz")
	g.Nodes = append(g.Nodes, Node{ID: "end", Type: "join"})
	g.Edges = append(g.Edges,
		Edge{Source: "yes", Target: "end", TargetHandle: "top-in"},
		Edge{Source: "no", Target: "end", TargetHandle: "bottom-in"},
	)

	res, err := engine.Run(context.Background(), g, RunOptions{})
	require.NoError(t, err)

	assert.True(t, rec.called("end"))
	v, _ := res.Outputs.Value("end")
	assert.Equal(t, "|hello no", v)
}

func TestEngine_SkippedNodeKeepsSeededValue(t *testing.T) {
	engine := NewEngine(testRegistry(&recorder{}))

	seed := OutputTable{"yes": {DefaultPort: "stale"}}
	res, err := engine.Run(context.Background(), branchGraph("xyz"), RunOptions{Seed: seed})
	require.NoError(t, err)

	v, ok := res.Outputs.Value("yes")
	require.True(t, ok)
	assert.Equal(t, "stale", v)
	assert.Equal(t, "stale", seed["yes"][DefaultPort], "seed table is not mutated")
}

func TestEngine_UnsupportedTypeIsNonFatal(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(testRegistry(rec))

	g := &Graph{
		Nodes: []Node{
			{ID: "in", Type: "source", Config: map[string]any{"text": "hi"}},
			{ID: "mystery", Type: "webhook"},
			{ID: "out", Type: "append", Config: map[string]any{"suffix": "!"}},
		},
		Edges: []Edge{
			{Source: "in", Target: "mystery"},
			{Source: "mystery", Target: "out"},
		},
	}

	res, err := engine.Run(context.Background(), g, RunOptions{})
	require.NoError(t, err)

	v, _ := res.Outputs.Value("mystery")
	assert.Equal(t, "Error: unsupported node type webhook", v)
	assert.True(t, res.Steps[1].Failed)

	out, _ := res.Outputs.Value("out")
	assert.Equal(t, "Error: unsupported node type webhook!", out)
	assert.Equal(t, RunCompleted, res.Status)
}

func TestEngine_FailureFlowsAsData(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(testRegistry(rec))

	g := &Graph{
		Nodes: []Node{
			{ID: "n1", Type: "source", Config: map[string]any{"text": "x"}},
			{ID: "n2", Type: "append"},
			{ID: "n3", Type: "fail"},
			{ID: "n4", Type: "append", Config: map[string]any{"suffix": " seen"}},
			{ID: "n5", Type: "append"},
		},
		Edges: []Edge{
			{Source: "n1", Target: "n2"},
			{Source: "n2", Target: "n3"},
			{Source: "n3", Target: "n4"},
			{Source: "n4", Target: "n5"},
		},
	}

	res, err := engine.Run(context.Background(), g, RunOptions{})
	require.NoError(t, err)

	assert.Len(t, rec.calls, 5)
	v, _ := res.Outputs.Value("n5")
	assert.Equal(t, "Error: boom seen", v)
}

func TestEngine_FailedBranchFeedsBothArms(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(testRegistry(rec))

	g := &Graph{
		Nodes: []Node{
			{ID: "a", Type: "source", Config: map[string]any{"text": "hello"}},
			{ID: "cond", Type: "fail"},
			{ID: "yes", Type: "append", Config: map[string]any{"suffix": " yes"}},
			{ID: "no", Type: "append", Config: map[string]any{"suffix": " no"}},
		},
		Edges: []Edge{
			{Source: "a", Target: "cond"},
			{Source: "cond", SourceHandle: PortTrue, Target: "yes"},
			{Source: "cond", SourceHandle: PortFalse, Target: "no"},
		},
	}

	res, err := engine.Run(context.Background(), g, RunOptions{})
	require.NoError(t, err)

	assert.True(t, res.Steps[1].Failed)
	yes, _ := res.Outputs.Value("yes")
	no, _ := res.Outputs.Value("no")
	assert.Equal(t, "Error: boom yes", yes)
	assert.Equal(t, "Error: boom no", no)
}

func TestEngine_ResultCarriesNodeConfigs(t *testing.T) {
	reg := NewRegistry()
	reg.Register("memo", ExecutorFunc(func(_ context.Context, ec *ExecContext) Result {
		ec.Config()["lastImage"] = "aW1n"
		return Ok("done")
	}))
	engine := NewEngine(reg)

	g := &Graph{Nodes: []Node{
		{ID: "gen", Type: "memo", Config: map[string]any{"prompt": "x"}},
		{ID: "bare", Type: "memo"},
		{ID: "idle", Type: "missing"},
	}}

	res, err := engine.Run(context.Background(), g, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"prompt": "x", "lastImage": "aW1n"}, res.Configs["gen"])
	assert.Equal(t, map[string]any{"lastImage": "aW1n"}, res.Configs["bare"])
	assert.NotContains(t, res.Configs, "idle")

	g.Nodes[0].Config["lastImage"] = "changed"
	assert.Equal(t, "aW1n", res.Configs["gen"]["lastImage"], "configs are a snapshot")
}

func TestEngine_PanicBecomesErrorValue(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(testRegistry(rec))

	g := &Graph{
		Nodes: []Node{{ID: "p", Type: "panic"}, {ID: "after", Type: "append"}},
		Edges: []Edge{{Source: "p", Target: "after"}},
	}

	res, err := engine.Run(context.Background(), g, RunOptions{})
	require.NoError(t, err)

	v, _ := res.Outputs.Value("p")
	assert.True(t, IsErrorValue(v))
	assert.Contains(t, v, "unexpected")
	assert.True(t, rec.called("after"))
}

func TestEngine_CycleFailsBeforeDispatch(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(testRegistry(rec))

	g := &Graph{
		Nodes: []Node{
			{ID: "root", Type: "source"},
			{ID: "a", Type: "append"},
			{ID: "b", Type: "append"},
		},
		Edges: []Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
	}

	_, err := engine.Run(context.Background(), g, RunOptions{})

	require.ErrorIs(t, err, ErrCycle)
	assert.Empty(t, rec.calls)
}

func TestEngine_LastWriteWinsInPlanOrder(t *testing.T) {
	engine := NewEngine(testRegistry(&recorder{}))

	g := &Graph{
		Nodes: []Node{
			{ID: "sink", Type: "append"},
			{ID: "late", Type: "source", Config: map[string]any{"text": "late"}},
			{ID: "early", Type: "source", Config: map[string]any{"text": "early"}},
		},
		Edges: []Edge{
			{Source: "late", Target: "sink", TargetHandle: "text-in"},
			{Source: "early", Target: "sink", TargetHandle: "text-in"},
		},
	}
	// Put "late" after "early" in the plan via a dependency.
	g.Edges = append(g.Edges, Edge{Source: "early", Target: "late", TargetHandle: "unused"})

	res, err := engine.Run(context.Background(), g, RunOptions{})
	require.NoError(t, err)

	v, _ := res.Outputs.Value("sink")
	assert.Equal(t, "late", v)
}

func TestEngine_CancelStopsScheduling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	reg := NewRegistry()
	var ran []string
	reg.Register("step", ExecutorFunc(func(_ context.Context, ec *ExecContext) Result {
		ran = append(ran, ec.Node.ID)
		if ec.Node.ID == "b" {
			cancel()
		}
		return Ok(ec.Node.ID)
	}))
	engine := NewEngine(reg)

	g := &Graph{
		Nodes: []Node{{ID: "a", Type: "step"}, {ID: "b", Type: "step"}, {ID: "c", Type: "step"}},
		Edges: []Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "c"}},
	}

	res, err := engine.Run(ctx, g, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, RunCancelled, res.Status)
	assert.Equal(t, []string{"a", "b"}, ran)
	assert.Equal(t, StatusPending, res.Steps[2].Status)
}

func TestEngine_EmitAndOnStep(t *testing.T) {
	reg := NewRegistry()
	reg.Register("progress", ExecutorFunc(func(_ context.Context, ec *ExecContext) Result {
		ec.Emit(map[string]any{"progress": 50})
		ec.Emit(map[string]any{"progress": 100})
		return Ok("done")
	}))
	engine := NewEngine(reg)

	var emitted []any
	var statuses []string
	opts := RunOptions{
		Emit:   func(nodeID string, v any) { emitted = append(emitted, nodeID, v) },
		OnStep: func(s Step) { statuses = append(statuses, s.Status) },
	}

	res, err := engine.Run(context.Background(), &Graph{Nodes: []Node{{ID: "p", Type: "progress"}}}, opts)
	require.NoError(t, err)

	assert.Equal(t, []any{"p", map[string]any{"progress": 50}, "p", map[string]any{"progress": 100}}, emitted)
	assert.Equal(t, []string{StatusRunning, StatusCompleted}, statuses)
	v, _ := res.Outputs.Value("p")
	assert.Equal(t, "done", v, "emitted values are not the node output")
}

func TestEngine_Idempotent(t *testing.T) {
	engine := NewEngine(testRegistry(&recorder{}))

	first, err := engine.Run(context.Background(), branchGraph("ell"), RunOptions{})
	require.NoError(t, err)
	second, err := engine.Run(context.Background(), branchGraph("ell"), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.Outputs, second.Outputs)
}

func TestEngine_OrphanNodeRunsWithoutInputs(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(testRegistry(rec))

	g := &Graph{Nodes: []Node{{ID: "alone", Type: "append", Config: map[string]any{"suffix": "x"}}}}

	res, err := engine.Run(context.Background(), g, RunOptions{})
	require.NoError(t, err)

	v, _ := res.Outputs.Value("alone")
	assert.Equal(t, "x", v)
}
