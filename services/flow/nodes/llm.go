package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/eino-contrib/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/veka-server/ClaraVerse-sub006/pkg/modelclient"
	"github.com/veka-server/ClaraVerse-sub006/services/flow"
)

// LLMExecutor handles the "llm" node type. config.apiType selects the
// backend for this node regardless of the run-wide setting.
type LLMExecutor struct{}

func (e *LLMExecutor) Execute(ctx context.Context, ec *flow.ExecContext) flow.Result {
	client, cfg, err := ec.ModelClient()
	if err != nil {
		return flow.Errorf("%v", err)
	}
	if cfg.Model == "" {
		return flow.Errorf("no model selected")
	}

	prompt := primaryText(ec)
	if prompt == "" {
		prompt = ec.ConfigString("prompt")
	}

	resp, err := client.SendChat(ctx, cfg.Model, chatMessages(ec, prompt), chatOptions(ec.Node.Config))
	if err != nil {
		ec.Logger.Error("Chat request failed", "model", cfg.Model, "apiType", cfg.APIType, "error", err)
		return flow.Errorf("%v", err)
	}
	return flow.Ok(resp.Message.Content)
}

// StructuredLLMExecutor handles the "structuredLlm" node type. The
// expected fields are turned into a JSON schema that constrains the reply,
// and the reply is returned as a decoded object.
type StructuredLLMExecutor struct{}

func (e *StructuredLLMExecutor) Execute(ctx context.Context, ec *flow.ExecContext) flow.Result {
	client, cfg, err := ec.ModelClient()
	if err != nil {
		return flow.Errorf("%v", err)
	}
	if cfg.Model == "" {
		return flow.Errorf("no model selected")
	}

	schema, err := SchemaFromFields(ec.Node.Config["expectedFields"])
	if err != nil {
		ec.Logger.Warn("Invalid expected fields, using permissive schema", "error", err)
		schema = &jsonschema.Schema{Type: "object"}
	}

	prompt := primaryText(ec)
	if prompt == "" {
		prompt = ec.ConfigString("prompt")
	}

	resp, err := client.SendStructuredChat(ctx, cfg.Model, chatMessages(ec, prompt), schema, chatOptions(ec.Node.Config))
	if err != nil {
		ec.Logger.Error("Structured chat request failed", "model", cfg.Model, "error", err)
		return flow.Errorf("%v", err)
	}

	var out any
	if err := sonic.UnmarshalString(resp.Message.Content, &out); err != nil {
		return flow.Errorf("model returned invalid JSON: %v", err)
	}
	return flow.Ok(out)
}

// ImageTextLLMExecutor handles the "imageTextLlm" node type. It asks a
// vision model about the image on image-in.
type ImageTextLLMExecutor struct{}

func (e *ImageTextLLMExecutor) Execute(ctx context.Context, ec *flow.ExecContext) flow.Result {
	image := ec.Inputs.Text(portImageIn, portImage)
	if image == "" {
		return flow.Errorf("no image provided")
	}

	client, cfg, err := ec.ModelClient()
	if err != nil {
		return flow.Errorf("%v", err)
	}
	if cfg.Model == "" {
		return flow.Errorf("no model selected")
	}

	prompt := ec.Inputs.Text(portTextIn, portText)
	if prompt == "" {
		prompt = ec.ConfigString("prompt")
	}
	if prompt == "" {
		prompt = "Describe this image."
	}

	resp, err := client.GenerateWithImages(ctx, cfg.Model, prompt, []string{image}, chatOptions(ec.Node.Config))
	if err != nil {
		ec.Logger.Error("Vision request failed", "model", cfg.Model, "error", err)
		return flow.Errorf("%v", err)
	}
	return flow.Ok(resp.Message.Content)
}

// chatMessages builds the conversation: an optional system prompt from
// the system-in port or config.systemPrompt, then the user prompt.
func chatMessages(ec *flow.ExecContext, prompt string) []modelclient.Message {
	var msgs []modelclient.Message
	system := ec.Inputs.Text(portSystemIn)
	if system == "" {
		system = ec.ConfigString("systemPrompt")
	}
	if system != "" {
		msgs = append(msgs, modelclient.Message{Role: "system", Content: system})
	}
	return append(msgs, modelclient.Message{Role: "user", Content: prompt})
}

func chatOptions(cfg map[string]any) modelclient.Options {
	var opts modelclient.Options
	if t, ok := configFloat(cfg, "temperature"); ok {
		opts.Temperature = &t
	}
	if p, ok := configFloat(cfg, "topP"); ok {
		opts.TopP = &p
	}
	opts.MaxTokens = configInt(cfg, "maxTokens", 0)
	return opts
}

var schemaTypes = map[string]bool{
	"string": true, "number": true, "integer": true, "boolean": true, "array": true, "object": true,
}

// SchemaFromFields converts an expected-fields description into a JSON
// schema. The description is an example object, given either as a map or
// as a JSON string, whose values are either type names ("string",
// "number", ...) or sample values. Every listed field is required.
func SchemaFromFields(fields any) (*jsonschema.Schema, error) {
	if s, ok := fields.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("expected fields are empty")
		}
		var decoded any
		if err := sonic.UnmarshalString(s, &decoded); err != nil {
			return nil, fmt.Errorf("parsing expected fields: %w", err)
		}
		fields = decoded
	}

	obj, ok := fields.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil, fmt.Errorf("expected fields must be a non-empty object")
	}
	return objectSchema(obj), nil
}

func objectSchema(obj map[string]any) *jsonschema.Schema {
	sc := &jsonschema.Schema{
		Type:       "object",
		Properties: orderedmap.New[string, *jsonschema.Schema](),
		Required:   make([]string, 0, len(obj)),
	}
	for _, k := range sortedKeys(obj) {
		sc.Properties.Set(k, valueSchema(obj[k]))
		sc.Required = append(sc.Required, k)
	}
	return sc
}

func valueSchema(v any) *jsonschema.Schema {
	switch t := v.(type) {
	case string:
		if schemaTypes[strings.ToLower(t)] {
			return &jsonschema.Schema{Type: strings.ToLower(t)}
		}
		return &jsonschema.Schema{Type: "string", Description: t}
	case float64, int, int64:
		return &jsonschema.Schema{Type: "number"}
	case bool:
		return &jsonschema.Schema{Type: "boolean"}
	case []any:
		sc := &jsonschema.Schema{Type: "array"}
		if len(t) > 0 {
			sc.Items = valueSchema(t[0])
		}
		return sc
	case map[string]any:
		return objectSchema(t)
	}
	return &jsonschema.Schema{}
}
