package nodes

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nikolalohinski/gonja"
	"github.com/nikolalohinski/gonja/config"
	gonjanodes "github.com/nikolalohinski/gonja/nodes"
	"github.com/nikolalohinski/gonja/parser"

	"github.com/veka-server/ClaraVerse-sub006/services/flow"
)

var (
	templateEnvOnce sync.Once
	templateEnv     *gonja.Environment
	templateEnvErr  error
)

// templateStatements are disabled because they would read templates from disk.
var templateStatements = []string{"include", "extends", "import", "from"}

func getTemplateEnv() (*gonja.Environment, error) {
	templateEnvOnce.Do(func() {
		env := gonja.NewEnvironment(config.DefaultConfig, gonja.DefaultLoader)
		for _, kw := range templateStatements {
			if !env.Statements.Exists(kw) {
				continue
			}
			err := env.Statements.Replace(kw, func(*parser.Parser, *parser.Parser) (gonjanodes.Statement, error) {
				return nil, fmt.Errorf("keyword[%s] has been disabled", kw)
			})
			if err != nil {
				templateEnvErr = fmt.Errorf("init template env: %w", err)
				return
			}
		}
		templateEnv = env
	})
	return templateEnv, templateEnvErr
}

// PromptTemplateExecutor handles the "promptTemplate" node type. It renders
// config.template as Jinja2 with every input port as a variable (dashes
// become underscores); the primary text input is also available as `input`.
type PromptTemplateExecutor struct{}

func (e *PromptTemplateExecutor) Execute(_ context.Context, ec *flow.ExecContext) flow.Result {
	src := ec.ConfigString("template")
	if src == "" {
		return flow.Ok(primaryText(ec))
	}

	env, err := getTemplateEnv()
	if err != nil {
		return flow.Errorf("%v", err)
	}
	tpl, err := env.FromString(src)
	if err != nil {
		return flow.Errorf("parsing template: %v", err)
	}

	vars := make(map[string]any, len(ec.Inputs)+1)
	for port, v := range ec.Inputs {
		// Port names like text-in are not valid identifiers.
		vars[strings.ReplaceAll(port, "-", "_")] = v
	}
	if defaults, ok := ec.Node.Config["variables"].(map[string]any); ok {
		for k, v := range defaults {
			if _, wired := vars[k]; !wired {
				vars[k] = v
			}
		}
	}
	vars["input"] = primaryText(ec)

	out, err := tpl.Execute(vars)
	if err != nil {
		return flow.Errorf("rendering template: %v", err)
	}
	return flow.Ok(out)
}
