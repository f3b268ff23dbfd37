package modelclient

import (
	"fmt"
	"sync"
)

// Provider resolves an API configuration to a backend client.
type Provider interface {
	Client(cfg Config) (Client, error)
}

// HTTPProvider builds Ollama or OpenAI clients on demand and reuses them
// for identical configurations.
type HTTPProvider struct {
	opts []Option

	mu      sync.Mutex
	clients map[string]Client
}

// NewProvider returns a provider whose clients share opts.
func NewProvider(opts ...Option) *HTTPProvider {
	return &HTTPProvider{opts: opts, clients: make(map[string]Client)}
}

func (p *HTTPProvider) Client(cfg Config) (Client, error) {
	apiType := cfg.APIType
	if apiType == "" {
		apiType = APITypeOllama
	}
	key := apiType + "|" + cfg.Endpoint() + "|" + cfg.APIKey

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok {
		return c, nil
	}

	var c Client
	switch apiType {
	case APITypeOllama:
		c = NewOllamaClient(cfg.Endpoint(), p.opts...)
	case APITypeOpenAI:
		c = NewOpenAIClient(cfg.Endpoint(), cfg.APIKey, p.opts...)
	default:
		return nil, fmt.Errorf("unsupported api type %q", cfg.APIType)
	}
	p.clients[key] = c
	return c, nil
}
