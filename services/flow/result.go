package flow

import (
	"fmt"
	"strings"
)

// ErrorPrefix marks string outputs that describe a node-local failure.
const ErrorPrefix = "Error: "

// Result is what an executor hands back to the engine. A failed result is
// still data: it is stored and routed to successors like any other value.
type Result struct {
	Value  any
	Ports  map[string]any
	Failed bool
	// Branch is set by branching nodes; the engine reads it to suppress the
	// arm that was not selected.
	Branch *bool
}

// Ok wraps a successful value.
func Ok(v any) Result {
	return Result{Value: v}
}

// Fail wraps an error-shaped value.
func Fail(v any) Result {
	return Result{Value: v, Failed: true}
}

// Errorf builds a failed result holding an "Error: " prefixed message.
func Errorf(format string, args ...any) Result {
	return Fail(ErrorPrefix + fmt.Sprintf(format, args...))
}

// Branching wraps a value together with a branch decision.
func Branching(v any, decision bool) Result {
	return Result{Value: v, Branch: &decision}
}

// WithPort returns a copy of r that also publishes v on the named port.
func (r Result) WithPort(port string, v any) Result {
	ports := make(map[string]any, len(r.Ports)+1)
	for k, pv := range r.Ports {
		ports[k] = pv
	}
	ports[port] = v
	r.Ports = ports
	return r
}

// IsErrorValue reports whether v looks like an error payload: a string
// beginning with "Error:" or a map with type "error".
func IsErrorValue(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.HasPrefix(t, "Error:")
	case map[string]any:
		typ, _ := t["type"].(string)
		return typ == "error"
	}
	return false
}
