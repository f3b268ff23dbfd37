package workflow

import (
	"time"

	"github.com/veka-server/ClaraVerse-sub006/services/flow"
)

// Workflow is a persisted flow graph as saved by the editor.
type Workflow struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Nodes     []flow.Node `json:"nodes"`
	Edges     []flow.Edge `json:"edges"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Graph returns the executable node/edge document of the workflow.
func (wf *Workflow) Graph() *flow.Graph {
	return &flow.Graph{Nodes: wf.Nodes, Edges: wf.Edges}
}

// SaveRequest is the JSON body of PUT /graphs/{id}.
type SaveRequest struct {
	Name  string      `json:"name"`
	Nodes []flow.Node `json:"nodes"`
	Edges []flow.Edge `json:"edges"`
}

// ExecuteRequest is the optional JSON body sent to execute a stored graph.
// API overrides the service's model backend settings for this run, using
// the same keys a node config accepts (apiType, ollamaUrl, model, ...).
type ExecuteRequest struct {
	API  map[string]any   `json:"api,omitempty"`
	Seed flow.OutputTable `json:"seed,omitempty"`
}

// InlineExecuteRequest runs a graph that is not stored.
type InlineExecuteRequest struct {
	ExecuteRequest
	Nodes []flow.Node `json:"nodes"`
	Edges []flow.Edge `json:"edges"`
}

// NodeTypesResponse lists the node types the engine can execute.
type NodeTypesResponse struct {
	Types []string `json:"types"`
}

// StreamMessage is one frame of the websocket run stream.
type StreamMessage struct {
	Type   string          `json:"type"`
	NodeID string          `json:"nodeId,omitempty"`
	Value  any             `json:"value,omitempty"`
	Step   *flow.Step      `json:"step,omitempty"`
	Result *flow.RunResult `json:"result,omitempty"`
}

// Stream message types.
const (
	MessageEmit   = "emit"
	MessageStep   = "step"
	MessageResult = "result"
)
