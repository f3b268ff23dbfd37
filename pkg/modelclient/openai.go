package modelclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/eino-contrib/jsonschema"
)

// OpenAIClient talks to any OpenAI-compatible /chat/completions endpoint.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	t       *transport
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient returns a client for baseURL (e.g. https://api.openai.com/v1).
func NewOpenAIClient(baseURL, apiKey string, opts ...Option) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultOpenAIURL
	}
	return &OpenAIClient{baseURL: baseURL, apiKey: apiKey, t: newTransport(opts)}
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Tools          []openAITool    `json:"tools,omitempty"`
	ResponseFormat map[string]any  `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *openAIImage `json:"image_url,omitempty"`
}

type openAIImage struct {
	URL string `json:"url"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function ollamaFunction `json:"function"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *OpenAIClient) SendChat(ctx context.Context, model string, messages []Message, opts Options, tools ...Tool) (*ChatResponse, error) {
	req := c.request(model, messages, opts)
	for _, tool := range tools {
		req.Tools = append(req.Tools, openAITool{
			Type:     "function",
			Function: ollamaFunction{Name: tool.Name, Description: tool.Description, Parameters: tool.Parameters},
		})
	}
	return c.do(ctx, req)
}

func (c *OpenAIClient) GenerateWithImages(ctx context.Context, model, prompt string, images []string, opts Options) (*ChatResponse, error) {
	msgs := []Message{{Role: "user", Content: prompt, Images: images}}
	return c.do(ctx, c.request(model, msgs, opts))
}

func (c *OpenAIClient) SendStructuredChat(ctx context.Context, model string, messages []Message, schema *jsonschema.Schema, opts Options) (*ChatResponse, error) {
	req := c.request(model, messages, opts)
	if schema != nil {
		req.ResponseFormat = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "structured_output",
				"schema": schema,
				"strict": false,
			},
		}
	} else {
		req.ResponseFormat = map[string]any{"type": "json_object"}
	}
	return c.do(ctx, req)
}

func (c *OpenAIClient) request(model string, messages []Message, opts Options) *openAIRequest {
	req := &openAIRequest{
		Model:       model,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxTokens,
	}
	for _, m := range messages {
		if len(m.Images) == 0 {
			req.Messages = append(req.Messages, openAIMessage{Role: m.Role, Content: m.Content})
			continue
		}
		parts := []openAIPart{{Type: "text", Text: m.Content}}
		for _, img := range m.Images {
			parts = append(parts, openAIPart{Type: "image_url", ImageURL: &openAIImage{URL: toDataURL(img)}})
		}
		req.Messages = append(req.Messages, openAIMessage{Role: m.Role, Content: parts})
	}
	return req
}

func (c *OpenAIClient) do(ctx context.Context, req *openAIRequest) (*ChatResponse, error) {
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	var resp openAIResponse
	if err := c.t.postJSON(ctx, c.baseURL+"/chat/completions", headers, req, &resp); err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat: response has no choices")
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Model: resp.Model,
		Done:  choice.FinishReason != "",
		Message: Message{
			Role:    choice.Message.Role,
			Content: choice.Message.Content,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out, nil
}

// toDataURL prefixes a bare base64 PNG payload so it can be sent as an image_url.
func toDataURL(img string) string {
	if strings.HasPrefix(img, "data:") || strings.HasPrefix(img, "http://") || strings.HasPrefix(img, "https://") {
		return img
	}
	return "data:image/png;base64," + img
}

// stripDataURLs removes "data:...;base64," prefixes, which Ollama rejects.
func stripDataURLs(images []string) []string {
	if len(images) == 0 {
		return nil
	}
	out := make([]string, 0, len(images))
	for _, img := range images {
		if strings.HasPrefix(img, "data:") {
			if i := strings.Index(img, ","); i >= 0 {
				img = img[i+1:]
			}
		}
		out = append(out, img)
	}
	return out
}
