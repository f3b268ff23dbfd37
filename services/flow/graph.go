package flow

// Graph is the node/edge document produced by the graph editor.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is a typed unit of work. Config is node-local state that its own
// executor may read and write during a run.
type Node struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Label    string         `json:"label,omitempty"`
	Position *Position      `json:"position,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// Position holds x/y coordinates for rendering the node on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge wires a source node's output port to a target node's input port.
type Edge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

const (
	// DefaultPort is used when an edge does not name a handle.
	DefaultPort = "default"

	// PortTrue and PortFalse are the arms of a branching node.
	PortTrue  = "true"
	PortFalse = "false"
)

func portOrDefault(p string) string {
	if p == "" {
		return DefaultPort
	}
	return p
}

func isArm(port string) bool {
	return port == PortTrue || port == PortFalse
}
