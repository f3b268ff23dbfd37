package nodes

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/veka-server/ClaraVerse-sub006/services/flow"
)

const scriptTimeout = 2 * time.Second

var containsExpr = regexp.MustCompile(`^\s*contains\(\s*['"]([^'"]*)['"]\s*\)\s*$`)

// ConditionalExecutor handles the "conditional" node type. config.condition
// is either contains('needle') or a JavaScript expression with the input
// bound to `input`. The input is passed through and the decision is stored
// in config.result.
type ConditionalExecutor struct{}

func (e *ConditionalExecutor) Execute(ctx context.Context, ec *flow.ExecContext) flow.Result {
	value, _ := ec.Inputs.Lookup(portTextIn, portText, flow.DefaultPort)
	text := flow.Stringify(value)

	decision, err := evaluateCondition(ctx, ec.ConfigString("condition"), text)
	if err != nil {
		ec.Logger.Warn("Condition evaluation failed", "condition", ec.ConfigString("condition"), "error", err)
		delete(ec.Node.Config, "result")
		return flow.Errorf("condition evaluation failed: %v", err)
	}
	ec.Config()["result"] = decision

	return flow.Branching(value, decision)
}

// evaluateCondition reports whether text satisfies condition. Empty input
// never satisfies a contains() test, and an empty condition tests whether
// the input is non-empty.
func evaluateCondition(ctx context.Context, condition, text string) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return text != "", nil
	}
	if m := containsExpr.FindStringSubmatch(condition); m != nil {
		if text == "" {
			return false, nil
		}
		return strings.Contains(text, m[1]), nil
	}
	return evalScript(ctx, condition, text)
}

func evalScript(ctx context.Context, expression, text string) (bool, error) {
	vm := goja.New()
	if err := vm.Set("input", text); err != nil {
		return false, err
	}
	if err := vm.Set("contains", func(s string) bool { return text != "" && strings.Contains(text, s) }); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	val, err := vm.RunString(expression)
	if err != nil {
		return false, fmt.Errorf("error executing javascript: %w", err)
	}
	return val.ToBoolean(), nil
}
