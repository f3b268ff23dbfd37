// Package graphfile loads flow graphs from JSON (the editor's export format)
// or HCL files.
//
// An HCL graph looks like:
//
//	node "in" "textInput" {
//	  config = { text = "hello" }
//	}
//
//	node "out" "textOutput" {}
//
//	edge {
//	  source        = "in"
//	  target        = "out"
//	  target_handle = "text-in"
//	}
package graphfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/veka-server/ClaraVerse-sub006/services/flow"
)

type hclGraphFile struct {
	Nodes []*hclNode `hcl:"node,block"`
	Edges []*hclEdge `hcl:"edge,block"`
}

type hclNode struct {
	ID     string    `hcl:"id,label"`
	Type   string    `hcl:"type,label"`
	Label  string    `hcl:"label,optional"`
	Config cty.Value `hcl:"config,optional"`
}

type hclEdge struct {
	ID           string `hcl:"id,optional"`
	Source       string `hcl:"source"`
	SourceHandle string `hcl:"source_handle,optional"`
	Target       string `hcl:"target"`
	TargetHandle string `hcl:"target_handle,optional"`
}

// Load reads the graph at path, choosing the format by extension.
func Load(path string) (*flow.Graph, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file %s: %w", path, err)
	}
	return Parse(filepath.Base(path), src)
}

// Parse decodes src; filename selects the format (.hcl or .json).
func Parse(filename string, src []byte) (*flow.Graph, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".hcl":
		return parseHCL(filename, src)
	case ".json", "":
		return parseJSON(filename, src)
	default:
		return nil, fmt.Errorf("unsupported graph file type %q", filepath.Ext(filename))
	}
}

func parseJSON(filename string, src []byte) (*flow.Graph, error) {
	var g flow.Graph
	if err := sonic.Unmarshal(src, &g); err != nil {
		return nil, fmt.Errorf("failed to decode graph file %s: %w", filename, err)
	}
	return &g, nil
}

func parseHCL(filename string, src []byte) (*flow.Graph, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var parsed hclGraphFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	g := &flow.Graph{
		Nodes: make([]flow.Node, 0, len(parsed.Nodes)),
		Edges: make([]flow.Edge, 0, len(parsed.Edges)),
	}
	for _, n := range parsed.Nodes {
		cfg, err := ctyToNative(n.Config)
		if err != nil {
			return nil, fmt.Errorf("node %q config: %w", n.ID, err)
		}
		node := flow.Node{ID: n.ID, Type: n.Type, Label: n.Label}
		if m, ok := cfg.(map[string]any); ok {
			node.Config = m
		} else if cfg != nil {
			return nil, fmt.Errorf("node %q config must be an object", n.ID)
		}
		g.Nodes = append(g.Nodes, node)
	}
	for _, e := range parsed.Edges {
		g.Edges = append(g.Edges, flow.Edge{
			ID:           e.ID,
			Source:       e.Source,
			SourceHandle: e.SourceHandle,
			Target:       e.Target,
			TargetHandle: e.TargetHandle,
		})
	}
	return g, nil
}

// ctyToNative converts a cty value into the JSON-like Go values executors
// expect: strings, float64, bool, []any and map[string]any.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, err
		}
		return f, nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, el := it.Element()
			native, err := ctyToNative(el)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			key, el := it.Element()
			native, err := ctyToNative(el)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", key.AsString(), err)
			}
			out[key.AsString()] = native
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
}
