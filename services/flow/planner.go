package flow

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrCycle         = errors.New("graph contains a cycle")
	ErrUnknownNode   = errors.New("edge references unknown node")
	ErrDuplicateNode = errors.New("duplicate node id")
	ErrEmptyNodeID   = errors.New("node id is empty")
)

// Wire feeds one local input port from a source node's output port.
type Wire struct {
	Port       string `json:"port"`
	SourceNode string `json:"sourceNode"`
	SourcePort string `json:"sourcePort"`
}

// Plan is a topologically valid execution order plus the input wiring of
// every node. Wires of a node are sorted by the plan position of their
// source, so applying them in order yields last-write-wins per port.
type Plan struct {
	Order  []string
	Wiring map[string][]Wire

	nodes    map[string]*Node
	position map[string]int
}

// Node returns the plan's node with the given id.
func (p *Plan) Node(id string) *Node {
	return p.nodes[id]
}

// NewPlan orders the graph with Kahn's algorithm. Among ready nodes the one
// listed first in g.Nodes is taken first, so identical graphs always produce
// identical plans. Nodes are referenced, not copied: executors see and
// mutate the graph's own Config maps.
func NewPlan(g *Graph) (*Plan, error) {
	index := make(map[string]int, len(g.Nodes))
	nodes := make(map[string]*Node, len(g.Nodes))
	for i := range g.Nodes {
		id := g.Nodes[i].ID
		if id == "" {
			return nil, fmt.Errorf("node at index %d: %w", i, ErrEmptyNodeID)
		}
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateNode, id)
		}
		index[id] = i
		nodes[id] = &g.Nodes[i]
	}

	indegree := make([]int, len(g.Nodes))
	successors := make([][]int, len(g.Nodes))
	wiring := make(map[string][]Wire, len(g.Nodes))
	for _, e := range g.Edges {
		src, ok := index[e.Source]
		if !ok {
			return nil, fmt.Errorf("%w: source %q", ErrUnknownNode, e.Source)
		}
		dst, ok := index[e.Target]
		if !ok {
			return nil, fmt.Errorf("%w: target %q", ErrUnknownNode, e.Target)
		}
		indegree[dst]++
		successors[src] = append(successors[src], dst)
		wiring[e.Target] = append(wiring[e.Target], Wire{
			Port:       portOrDefault(e.TargetHandle),
			SourceNode: e.Source,
			SourcePort: portOrDefault(e.SourceHandle),
		})
	}

	ready := &indexHeap{}
	for i, d := range indegree {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	order := make([]string, 0, len(g.Nodes))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, g.Nodes[i].ID)
		for _, s := range successors[i] {
			indegree[s]--
			if indegree[s] == 0 {
				heap.Push(ready, s)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		var stuck []string
		for i, d := range indegree {
			if d > 0 {
				stuck = append(stuck, g.Nodes[i].ID)
			}
		}
		return nil, fmt.Errorf("%w: unresolved nodes %s", ErrCycle, strings.Join(stuck, ", "))
	}

	position := make(map[string]int, len(order))
	for i, id := range order {
		position[id] = i
	}
	for id := range wiring {
		wires := wiring[id]
		sort.SliceStable(wires, func(a, b int) bool {
			return position[wires[a].SourceNode] < position[wires[b].SourceNode]
		})
	}

	return &Plan{Order: order, Wiring: wiring, nodes: nodes, position: position}, nil
}

// indexHeap is a min-heap of node indices.
type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
