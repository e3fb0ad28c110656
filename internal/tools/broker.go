// Package tools is a thin invocation surface over the Model Context
// Protocol: discover tools exposed by configured MCP servers and call
// them by name, validating arguments against each tool's schema before
// dispatch. The core never embeds tool logic of its own.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/xeipuuv/gojsonschema"
)

// ErrTool wraps every failure this package returns.
var ErrTool = errors.New("tools: broker error")

// ServerConfig describes one MCP server to connect to at startup.
type ServerConfig struct {
	Name      string
	Transport string // "stdio" or "http"
	Command   string
	Args      []string
	Env       map[string]string
	Endpoint  string
}

// Definition mirrors the core's tool-definition shape so callers outside
// this package never need to import the MCP SDK directly.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// entry pairs a discovered MCP tool with the session that owns it.
type entry struct {
	server  string
	session *mcp.ClientSession
	tool    *mcp.Tool
	schema  map[string]any
}

// Broker discovers and invokes tools across one or more MCP server
// sessions. A nil *Broker is a valid "no tools configured" state.
type Broker struct {
	mu       sync.RWMutex
	sessions map[string]*mcp.ClientSession
	entries  map[string]*entry
}

// New creates an empty Broker. Call Connect for each configured server.
func New() *Broker {
	return &Broker{
		sessions: map[string]*mcp.ClientSession{},
		entries:  map[string]*entry{},
	}
}

// Connect dials one MCP server (stdio or HTTP transport) and registers
// every tool it advertises under "<server>_<tool>".
func (b *Broker) Connect(ctx context.Context, cfg ServerConfig) error {
	client := mcp.NewClient(&mcp.Implementation{Name: "voxd", Version: "1"}, nil)

	var session *mcp.ClientSession
	var err error

	switch cfg.Transport {
	case "http":
		if cfg.Endpoint == "" {
			return fmt.Errorf("%w: http transport requires endpoint", ErrTool)
		}
		transport := &mcp.StreamableClientTransport{Endpoint: cfg.Endpoint}
		session, err = client.Connect(ctx, transport, nil)
	case "stdio", "":
		if cfg.Command == "" {
			return fmt.Errorf("%w: stdio transport requires command", ErrTool)
		}
		cmd := exec.Command(cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			env := os.Environ()
			for k, v := range cfg.Env {
				env = append(env, k+"="+v)
			}
			cmd.Env = env
		}
		session, err = client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrTool, cfg.Transport)
	}
	if err != nil {
		return fmt.Errorf("%w: connect %s: %v", ErrTool, cfg.Name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[cfg.Name] = session

	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			break
		}
		name := cfg.Name + "_" + tool.Name
		b.entries[name] = &entry{
			server:  cfg.Name,
			session: session,
			tool:    tool,
			schema:  toSchemaMap(tool.InputSchema),
		}
	}
	return nil
}

// Close closes every connected session.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sessions {
		_ = s.Close()
	}
	return nil
}

// ListTools returns the current tool catalogue across every connected
// server, re-queried from the stored discovery results.
func (b *Broker) ListTools() []Definition {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Definition, 0, len(b.entries))
	for name, e := range b.entries {
		out = append(out, Definition{
			Name:        name,
			Description: e.tool.Description,
			Parameters:  e.schema,
		})
	}
	return out
}

// CallTool validates arguments against the tool's schema, then invokes it.
// A malformed argument set is reported as a tool error rather than sent to
// the server.
func (b *Broker) CallTool(ctx context.Context, name string, arguments map[string]any) (string, error) {
	b.mu.RLock()
	e, ok := b.entries[name]
	b.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: unknown tool %q", ErrTool, name)
	}

	if err := validateArguments(e.schema, arguments); err != nil {
		return fmt.Sprintf("Error: invalid arguments: %v", err), nil
	}

	res, err := e.session.CallTool(ctx, &mcp.CallToolParams{Name: e.tool.Name, Arguments: arguments})
	if err != nil {
		return "", fmt.Errorf("%w: call %s: %v", ErrTool, name, err)
	}

	var text string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			if text != "" {
				text += "\n"
			}
			text += tc.Text
		}
	}
	if res.IsError {
		return "Error: " + text, nil
	}
	return text, nil
}

func validateArguments(schema map[string]any, arguments map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	schemaLoader := gojsonschema.NewGoLoader(schema)
	docLoader := gojsonschema.NewGoLoader(arguments)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return err
	}
	if !result.Valid() {
		var msg string
		for i, e := range result.Errors() {
			if i > 0 {
				msg += "; "
			}
			msg += e.String()
		}
		return errors.New(msg)
	}
	return nil
}

func toSchemaMap(schema any) map[string]any {
	out := map[string]any{"type": "object", "properties": map[string]any{}}
	if schema == nil {
		return out
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return out
	}
	var m map[string]any
	if json.Unmarshal(b, &m) != nil || m == nil {
		return out
	}
	for k, v := range m {
		out[k] = v
	}
	return out
}
