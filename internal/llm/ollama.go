package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quietsignal/voxd/internal/conversation"
	"github.com/quietsignal/voxd/internal/httpx"
	"github.com/quietsignal/voxd/internal/metrics"
)

// OllamaProvider talks to a local Ollama server's /api/chat endpoint,
// which supports both streaming and native tool calling.
type OllamaProvider struct {
	url          string
	model        string
	systemPrompt string
	maxTokens    int
	client       *http.Client
}

// NewOllamaProvider creates an Ollama-backed Provider.
func NewOllamaProvider(url, model, systemPrompt string, maxTokens, poolSize int) *OllamaProvider {
	if poolSize <= 0 {
		poolSize = 10
	}
	return &OllamaProvider{
		url:          url,
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		client:       httpx.NewPooledClient(poolSize, 120*time.Second),
	}
}

func (p *OllamaProvider) Close() error { return nil }

func (p *OllamaProvider) Complete(ctx context.Context, messages []conversation.Message, tools []ToolDefinition, opts Options) (*CompletionResult, error) {
	return p.run(ctx, messages, tools, opts, false, nil)
}

func (p *OllamaProvider) StreamComplete(ctx context.Context, messages []conversation.Message, tools []ToolDefinition, opts Options, onToken TokenCallback) (*CompletionResult, error) {
	return p.run(ctx, messages, tools, opts, true, onToken)
}

func (p *OllamaProvider) run(ctx context.Context, messages []conversation.Message, tools []ToolDefinition, opts Options, stream bool, onToken TokenCallback) (*CompletionResult, error) {
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
			return nil, fmt.Errorf("%w: ollama status %d: %s", ErrLLM, resp.StatusCode, body)
		}

		result := p.consume(resp, onToken, start)
		metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
		return result, nil
	})
}

func (p *OllamaProvider) post(ctx context.Context, messages []conversation.Message, tools []ToolDefinition, opts Options, stream bool) (*http.Response, error) {
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}

	reqBody := ollamaRequest{
		Model:    model,
		Stream:   stream,
		Options:  ollamaOptions{NumPredict: firstNonZero(opts.MaxTokens, p.maxTokens)},
		Messages: toOllamaMessages(messages),
		Tools:    toOllamaTools(tools),
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal ollama request: %v", ErrInvalidRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.url+"/api/chat", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: create ollama request: %v", ErrInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")

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

func (p *OllamaProvider) consume(resp *http.Response, onToken TokenCallback, start time.Time) *CompletionResult {
	result := &CompletionResult{}
	var ttft time.Time
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		var chunk ollamaStreamChunk
		if json.Unmarshal(scanner.Bytes(), &chunk) != nil {
			continue
		}
		if chunk.Message.Thinking != "" {
			result.Thinking += chunk.Message.Thinking
		}
		if chunk.Message.Content != "" {
			if ttft.IsZero() {
				ttft = time.Now()
			}
			if onToken != nil {
				onToken(chunk.Message.Content)
			}
			result.Text += chunk.Message.Content
		}
		for _, tc := range chunk.Message.ToolCalls {
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if chunk.Done {
			break
		}
	}

	result.LatencyMs = float64(time.Since(start).Milliseconds())
	if !ttft.IsZero() {
		result.TimeToFirstTokenMs = float64(ttft.Sub(start).Milliseconds())
	}
	return result
}

func toOllamaMessages(messages []conversation.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		msg := ollamaMessage{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.ArgumentsJSON), &args)
			msg.ToolCalls = append(msg.ToolCalls, ollamaToolCall{
				Function: ollamaToolCallFunction{Name: tc.Name, Arguments: args},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOllamaTools(tools []ToolDefinition) []ollamaTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]ollamaTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Messages []ollamaMessage `json:"messages"`
	Options  ollamaOptions   `json:"options"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict"`
}

type ollamaStreamChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaToolCall struct {
	Function ollamaToolCallFunction `json:"function"`
}

type ollamaToolCallFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}
