// Package nodes contains the built-in node executors.
package nodes

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/veka-server/ClaraVerse-sub006/services/flow"
)

// Node type identifiers understood by the graph editor.
const (
	TypeTextInput       = "textInput"
	TypeStaticText      = "staticText"
	TypeTextOutput      = "textOutput"
	TypeMarkdownOutput  = "markdownOutput"
	TypeTextCombiner    = "textCombiner"
	TypeConcatText      = "concatText"
	TypeConditional     = "conditional"
	TypeAPICall         = "apiCall"
	TypeLLM             = "llm"
	TypeStructuredLLM   = "structuredLlm"
	TypeImageTextLLM    = "imageTextLlm"
	TypeRAGQuery        = "ragQuery"
	TypeImageInput      = "imageInput"
	TypeImageGeneration = "imageGeneration"
	TypeImageTransform  = "imageTransform"
	TypeJSONParse       = "jsonParse"
	TypePromptTemplate  = "promptTemplate"
)

// Port names shared by several executors.
const (
	portTextIn   = "text-in"
	portText     = "text"
	portImageIn  = "image-in"
	portImage    = "image"
	portSystemIn = "system-in"
	portTopIn    = "top-in"
	portBottomIn = "bottom-in"
)

// Deps are the collaborators executors need beyond their ExecContext.
type Deps struct {
	// HTTPClient is used by nodes that call plain HTTP backends (API call,
	// RAG, image generation). Model calls go through the ExecContext provider.
	HTTPClient *http.Client
}

func (d Deps) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return &http.Client{Timeout: 5 * time.Minute}
}

// Register installs every built-in executor into reg.
func Register(reg *flow.Registry, deps Deps) {
	client := deps.httpClient()

	reg.Register(TypeTextInput, &TextInputExecutor{})
	reg.Register(TypeStaticText, &StaticTextExecutor{})
	reg.Register(TypeTextOutput, &TextOutputExecutor{})
	reg.Register(TypeMarkdownOutput, &TextOutputExecutor{})
	reg.Register(TypeTextCombiner, &TextCombinerExecutor{})
	reg.Register(TypeConcatText, &ConcatTextExecutor{})
	reg.Register(TypeConditional, &ConditionalExecutor{})
	reg.Register(TypeAPICall, &APICallExecutor{client: client})
	reg.Register(TypeLLM, &LLMExecutor{})
	reg.Register(TypeStructuredLLM, &StructuredLLMExecutor{})
	reg.Register(TypeImageTextLLM, &ImageTextLLMExecutor{})
	reg.Register(TypeRAGQuery, &RAGQueryExecutor{client: client})
	reg.Register(TypeImageInput, &ImageInputExecutor{})
	reg.Register(TypeImageGeneration, &ImageGenerationExecutor{client: client})
	reg.Register(TypeImageTransform, &ImageTransformExecutor{})
	reg.Register(TypeJSONParse, &JSONParseExecutor{})
	reg.Register(TypePromptTemplate, &PromptTemplateExecutor{})
}

// primaryText reads the node's main text input with the usual precedence.
func primaryText(ec *flow.ExecContext) string {
	return ec.Inputs.Text(portTextIn, portText, flow.DefaultPort)
}

// configInt reads an integer setting; JSON numbers arrive as float64 and
// form fields as strings.
func configInt(cfg map[string]any, key string, def int) int {
	switch v := cfg[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func configFloat(cfg map[string]any, key string) (float64, bool) {
	switch v := cfg[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func configBool(cfg map[string]any, key string) bool {
	switch v := cfg[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
