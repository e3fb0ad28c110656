package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/quietsignal/voxd/internal/conversation"
	"github.com/quietsignal/voxd/internal/httpx"
	"github.com/quietsignal/voxd/internal/metrics"
)

// AnthropicProvider talks to the raw Anthropic Messages API over SSE; the
// SDK-less approach this codebase already uses for non-OpenAI backends.
type AnthropicProvider struct {
	apiKey       string
	url          string
	model        string
	systemPrompt string
	maxTokens    int
	client       *http.Client
}

// NewAnthropicProvider creates an Anthropic-backed Provider. apiKeyEnv
// names the environment variable holding the API key.
func NewAnthropicProvider(url, apiKeyEnv, model, systemPrompt string, maxTokens, poolSize int) *AnthropicProvider {
	if poolSize <= 0 {
		poolSize = 10
	}
	return &AnthropicProvider{
		apiKey:       os.Getenv(apiKeyEnv),
		url:          url,
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		client:       httpx.NewPooledClient(poolSize, 120*time.Second),
	}
}

func (p *AnthropicProvider) Close() error { return nil }

func (p *AnthropicProvider) Complete(ctx context.Context, messages []conversation.Message, tools []ToolDefinition, opts Options) (*CompletionResult, error) {
	return p.run(ctx, messages, tools, opts, false, nil)
}

func (p *AnthropicProvider) StreamComplete(ctx context.Context, messages []conversation.Message, tools []ToolDefinition, opts Options, onToken TokenCallback) (*CompletionResult, error) {
	return p.run(ctx, messages, tools, opts, true, onToken)
}

func (p *AnthropicProvider) run(ctx context.Context, messages []conversation.Message, tools []ToolDefinition, opts Options, stream bool, onToken TokenCallback) (*CompletionResult, error) {
	return withRetry(ctx, func() (*CompletionResult, error) {
		start := time.Now()
		resp, err := p.post(ctx, messages, tools, opts, stream)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			metrics.Errors.WithLabelValues("llm", "status").Inc()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, classifyAnthropicStatus(resp.StatusCode, body)
		}

		var result *CompletionResult
		if stream {
			result = consumeAnthropicStream(resp.Body, onToken, start)
		} else {
			result = parseAnthropicResponse(resp.Body, start)
		}
		metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
		return result, nil
	})
}

func (p *AnthropicProvider) post(ctx context.Context, messages []conversation.Message, tools []ToolDefinition, opts Options, stream bool) (*http.Response, error) {
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}
	maxTokens := firstNonZero(opts.MaxTokens, p.maxTokens)

	system, history := splitSystemPrompt(messages, p.systemPrompt)

	body, err := json.Marshal(anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Stream:    stream,
		System:    system,
		Messages:  history,
		Tools:     toAnthropicTools(tools),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal anthropic request: %v", ErrInvalidRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.url+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create anthropic request: %v", ErrInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("llm", "http").Inc()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return resp, nil
}

func splitSystemPrompt(messages []conversation.Message, fallback string) (string, []anthropicMessage) {
	system := fallback
	history := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == conversation.RoleSystem {
			system = m.Content
			continue
		}
		role := string(m.Role)
		if m.Role == conversation.RoleTool {
			role = "user" // Anthropic represents tool results as user turns with tool_result blocks
			history = append(history, anthropicMessage{
				Role: role,
				Content: []anthropicContentBlock{
					{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content},
				},
			})
			continue
		}
		if m.Role == conversation.RoleAssistant && len(m.ToolCalls) > 0 {
			blocks := make([]anthropicContentBlock, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var input map[string]any
				_ = json.Unmarshal([]byte(tc.ArgumentsJSON), &input)
				blocks = append(blocks, anthropicContentBlock{Type: "tool_use", ID: tc.ID, ToolName: tc.Name, Input: input})
			}
			history = append(history, anthropicMessage{Role: role, Content: blocks})
			continue
		}
		history = append(history, anthropicMessage{Role: role, Content: m.Content})
	}
	return system, history
}

func toAnthropicTools(tools []ToolDefinition) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return out
}

func consumeAnthropicStream(body io.Reader, onToken TokenCallback, start time.Time) *CompletionResult {
	result := &CompletionResult{}
	var ttft time.Time
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var eventType string

	pending := map[int]*anthropicPendingTool{}

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch eventType {
		case "message_stop":
			finalizeAnthropicTools(result, pending)
			result.LatencyMs = float64(time.Since(start).Milliseconds())
			if !ttft.IsZero() {
				result.TimeToFirstTokenMs = float64(ttft.Sub(start).Milliseconds())
			}
			return result

		case "content_block_start":
			var ev anthropicBlockStartEvent
			if json.Unmarshal([]byte(data), &ev) == nil && ev.ContentBlock.Type == "tool_use" {
				pending[ev.Index] = &anthropicPendingTool{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
			}

		case "content_block_delta":
			var delta anthropicDeltaEvent
			if json.Unmarshal([]byte(data), &delta) != nil {
				continue
			}
			switch delta.Delta.Type {
			case "thinking_delta":
				result.Thinking += delta.Delta.Thinking
			case "input_json_delta":
				if pt, ok := pending[delta.Index]; ok {
					pt.argsJSON.WriteString(delta.Delta.PartialJSON)
				}
			default:
				if delta.Delta.Text == "" {
					continue
				}
				if ttft.IsZero() {
					ttft = time.Now()
				}
				if onToken != nil {
					onToken(delta.Delta.Text)
				}
				result.Text += delta.Delta.Text
			}
		}
	}

	finalizeAnthropicTools(result, pending)
	result.LatencyMs = float64(time.Since(start).Milliseconds())
	return result
}

// anthropicPendingTool accumulates a streamed tool_use block's partial
// JSON input until message_stop (or the end of the stream), since Anthropic
// streams tool arguments as incremental JSON fragments.
type anthropicPendingTool struct {
	id, name string
	argsJSON strings.Builder
}

func finalizeAnthropicTools(result *CompletionResult, pending map[int]*anthropicPendingTool) {
	for _, pt := range pending {
		var args map[string]any
		raw := pt.argsJSON.String()
		if raw == "" {
			raw = "{}"
		}
		_ = json.Unmarshal([]byte(raw), &args)
		result.ToolCalls = append(result.ToolCalls, ToolCall{ID: pt.id, Name: pt.name, Arguments: args})
	}
}

func parseAnthropicResponse(body io.Reader, start time.Time) *CompletionResult {
	var resp anthropicResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return &CompletionResult{LatencyMs: float64(time.Since(start).Milliseconds())}
	}
	result := &CompletionResult{LatencyMs: float64(time.Since(start).Milliseconds())}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Text += block.Text
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}
	return result
}

func classifyAnthropicStatus(status int, body []byte) error {
	switch status {
	case 429:
		return fmt.Errorf("%w: anthropic status 429: %s", ErrRateLimit, body)
	case 400, 422:
		return fmt.Errorf("%w: anthropic status %d: %s", ErrInvalidRequest, status, body)
	case 408, 504:
		return fmt.Errorf("%w: anthropic status %d: %s", ErrTimeout, status, body)
	default:
		if status >= 500 {
			return fmt.Errorf("%w: anthropic status %d: %s", ErrConnection, status, body)
		}
		return fmt.Errorf("%w: anthropic status %d: %s", ErrLLM, status, body)
	}
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens"`
	Stream    bool                `json:"stream"`
	System    string              `json:"system,omitempty"`
	Messages  []anthropicMessage  `json:"messages"`
	Tools     []anthropicTool     `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string, or []anthropicContentBlock for tool_use and tool_result turns
}

type anthropicContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	ID        string         `json:"id,omitempty"`
	ToolName  string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content []anthropicResponseBlock `json:"content"`
}

type anthropicResponseBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicBlockStartEvent struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
}

type anthropicDeltaEvent struct {
	Index int            `json:"index"`
	Delta anthropicDelta `json:"delta"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}
