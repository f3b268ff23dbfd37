package nodes

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/oliveagle/jsonpath"

	"github.com/veka-server/ClaraVerse-sub006/services/flow"
)

// JSONParseExecutor handles the "jsonParse" node type. It decodes its
// input and optionally extracts config.field, given either as a dot path
// (items.0.name) or as a JSONPath expression ($.items[0].name).
type JSONParseExecutor struct{}

func (e *JSONParseExecutor) Execute(_ context.Context, ec *flow.ExecContext) flow.Result {
	raw, ok := ec.Inputs.Lookup(portTextIn, portText, flow.DefaultPort)
	if !ok {
		return flow.Errorf("no JSON input provided")
	}

	var data any
	switch v := raw.(type) {
	case string:
		if err := sonic.UnmarshalString(strings.TrimSpace(v), &data); err != nil {
			return flow.Errorf("invalid JSON: %v", err)
		}
	default:
		data = v
	}

	field := strings.TrimSpace(ec.ConfigString("field"))
	if field == "" {
		return flow.Ok(data)
	}

	var (
		val any
		err error
	)
	if strings.HasPrefix(field, "$") {
		val, err = jsonpath.JsonPathLookup(data, field)
	} else {
		val, err = lookupPath(data, field)
	}
	if err != nil {
		return flow.Errorf("field %q: %v", field, err)
	}
	return flow.Ok(val)
}

// lookupPath walks a dot separated path through maps and arrays.
func lookupPath(data any, path string) (any, error) {
	cur := data
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("key %q not found", part)
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("index %q out of range", part)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("cannot descend into %T at %q", cur, part)
		}
	}
	return cur, nil
}
