package flow

import (
	"fmt"
	"log/slog"

	"github.com/bytedance/sonic"

	"github.com/veka-server/ClaraVerse-sub006/pkg/modelclient"
)

// EmitFunc receives incremental or visual output for a node. It is never
// awaited by the engine.
type EmitFunc func(nodeID string, value any)

// ExecContext is the value bundle handed to one executor invocation.
type ExecContext struct {
	Node   *Node
	Inputs Inputs
	Models modelclient.Provider
	API    modelclient.Config
	Logger *slog.Logger

	emit EmitFunc
}

// Emit publishes a partial value for the current node.
func (ec *ExecContext) Emit(value any) {
	if ec.emit != nil {
		ec.emit(ec.Node.ID, value)
	}
}

// Config returns the node config, creating it if needed so executors can
// memoise state into it.
func (ec *ExecContext) Config() map[string]any {
	if ec.Node.Config == nil {
		ec.Node.Config = make(map[string]any)
	}
	return ec.Node.Config
}

// ConfigString reads a string setting from the node config.
func (ec *ExecContext) ConfigString(key string) string {
	s, _ := ec.Node.Config[key].(string)
	return s
}

// ModelClient resolves the backend for this node: node settings override
// the run-wide API configuration.
func (ec *ExecContext) ModelClient() (modelclient.Client, modelclient.Config, error) {
	cfg := ec.API.Merge(ec.Node.Config)
	if ec.Models == nil {
		return nil, cfg, fmt.Errorf("no model client configured")
	}
	c, err := ec.Models.Client(cfg)
	return c, cfg, err
}

// Inputs holds the resolved values of a node's wired input ports.
type Inputs map[string]any

// Lookup returns the first present port in precedence order.
func (in Inputs) Lookup(ports ...string) (any, bool) {
	for _, p := range ports {
		if v, ok := in[p]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Text returns the first present port rendered as a string, or "" when
// none of the ports are wired.
func (in Inputs) Text(ports ...string) string {
	v, ok := in.Lookup(ports...)
	if !ok {
		return ""
	}
	return Stringify(v)
}

// Stringify renders an output value as text. Strings pass through; other
// values are JSON encoded with sorted map keys.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	}
	b, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
