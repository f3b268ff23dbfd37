// Package modelclient is the boundary between node executors and AI model
// backends. Both a local Ollama server and any OpenAI-compatible endpoint
// are normalised to the same Client interface.
package modelclient

import (
	"context"
	"strings"

	"github.com/eino-contrib/jsonschema"
)

const (
	APITypeOllama = "ollama"
	APITypeOpenAI = "openai"

	DefaultOllamaURL = "http://localhost:11434"
	DefaultOpenAIURL = "https://api.openai.com/v1"
)

// Message is one chat turn. Images holds base64 payloads without a data URL prefix.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Images    []string   `json:"images,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a function invocation requested by the model. Arguments is raw JSON.
type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// Options tune a single completion. Zero values leave backend defaults.
type Options struct {
	Temperature *float64
	MaxTokens   int
	TopP        *float64
}

// ChatResponse is the normalised completion shape returned by every backend.
type ChatResponse struct {
	Message Message `json:"message"`
	Model   string  `json:"model"`
	Done    bool    `json:"done"`
}

// Client is implemented by every model backend.
type Client interface {
	SendChat(ctx context.Context, model string, messages []Message, opts Options, tools ...Tool) (*ChatResponse, error)
	GenerateWithImages(ctx context.Context, model, prompt string, images []string, opts Options) (*ChatResponse, error)
	SendStructuredChat(ctx context.Context, model string, messages []Message, schema *jsonschema.Schema, opts Options) (*ChatResponse, error)
}

// Config is the API configuration shared by all AI-capable nodes of a run.
type Config struct {
	APIType  string `json:"apiType" mapstructure:"api-type"`
	BaseURL  string `json:"baseUrl" mapstructure:"api-base-url"`
	APIKey   string `json:"-" mapstructure:"api-key"`
	Model    string `json:"model" mapstructure:"model"`
	RAGURL   string `json:"ragUrl" mapstructure:"rag-url"`
	ImageURL string `json:"imageUrl" mapstructure:"image-url"`
}

// Merge overlays node-level settings on top of c. Node config keys follow
// the editor's naming (apiType, ollamaUrl, baseUrl, apiKey, model).
func (c Config) Merge(node map[string]any) Config {
	out := c
	if v := str(node, "apiType"); v != "" {
		out.APIType = strings.ToLower(v)
		// A backend switch invalidates the inherited endpoint.
		if out.APIType != c.APIType {
			out.BaseURL = ""
		}
	}
	if v := str(node, "ollamaUrl"); v != "" && out.APIType != APITypeOpenAI {
		out.BaseURL = v
	}
	if v := str(node, "baseUrl"); v != "" {
		out.BaseURL = v
	}
	if v := str(node, "apiKey"); v != "" {
		out.APIKey = v
	}
	if v := str(node, "model"); v != "" {
		out.Model = v
	}
	if v := str(node, "ragUrl"); v != "" {
		out.RAGURL = v
	}
	if v := str(node, "imageUrl"); v != "" {
		out.ImageURL = v
	}
	return out
}

// Endpoint returns BaseURL or the default for the configured backend.
func (c Config) Endpoint() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	if c.APIType == APITypeOpenAI {
		return DefaultOpenAIURL
	}
	return DefaultOllamaURL
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
