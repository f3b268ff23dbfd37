package modelclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eino-contrib/jsonschema"
)

// OllamaClient talks to a local Ollama server through /api/chat.
type OllamaClient struct {
	baseURL string
	t       *transport
}

var _ Client = (*OllamaClient)(nil)

// NewOllamaClient returns a client for the server at baseURL.
func NewOllamaClient(baseURL string, opts ...Option) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaClient{baseURL: baseURL, t: newTransport(opts)}
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   any             `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Images    []string         `json:"images,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

func (c *OllamaClient) SendChat(ctx context.Context, model string, messages []Message, opts Options, tools ...Tool) (*ChatResponse, error) {
	req := c.request(model, messages, opts)
	for _, tool := range tools {
		req.Tools = append(req.Tools, ollamaTool{
			Type:     "function",
			Function: ollamaFunction{Name: tool.Name, Description: tool.Description, Parameters: tool.Parameters},
		})
	}
	return c.do(ctx, req)
}

func (c *OllamaClient) GenerateWithImages(ctx context.Context, model, prompt string, images []string, opts Options) (*ChatResponse, error) {
	msgs := []Message{{Role: "user", Content: prompt, Images: stripDataURLs(images)}}
	return c.do(ctx, c.request(model, msgs, opts))
}

func (c *OllamaClient) SendStructuredChat(ctx context.Context, model string, messages []Message, schema *jsonschema.Schema, opts Options) (*ChatResponse, error) {
	req := c.request(model, messages, opts)
	if schema != nil {
		req.Format = schema
	} else {
		req.Format = "json"
	}
	return c.do(ctx, req)
}

func (c *OllamaClient) request(model string, messages []Message, opts Options) *ollamaRequest {
	req := &ollamaRequest{Model: model, Stream: false}
	for _, m := range messages {
		req.Messages = append(req.Messages, ollamaMessage{Role: m.Role, Content: m.Content, Images: stripDataURLs(m.Images)})
	}
	options := map[string]any{}
	if opts.Temperature != nil {
		options["temperature"] = *opts.Temperature
	}
	if opts.TopP != nil {
		options["top_p"] = *opts.TopP
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if len(options) > 0 {
		req.Options = options
	}
	return req
}

func (c *OllamaClient) do(ctx context.Context, req *ollamaRequest) (*ChatResponse, error) {
	var resp ollamaResponse
	if err := c.t.postJSON(ctx, c.baseURL+"/api/chat", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	out := &ChatResponse{
		Model: resp.Model,
		Done:  resp.Done,
		Message: Message{
			Role:    resp.Message.Role,
			Content: resp.Message.Content,
		},
	}
	for _, tc := range resp.Message.ToolCalls {
		out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{
			Name:      tc.Function.Name,
			Arguments: string(tc.Function.Arguments),
		})
	}
	return out, nil
}
