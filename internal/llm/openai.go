package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/quietsignal/voxd/internal/conversation"
	"github.com/quietsignal/voxd/internal/metrics"
)

// OpenAIProvider is backed by the official openai-go/v2 client, which
// natively supports streaming and tool calling, so it needs none of the
// hand-rolled SSE parsing the raw HTTP backends do.
type OpenAIProvider struct {
	client       openai.Client
	model        string
	systemPrompt string
	maxTokens    int
}

// NewOpenAIProvider creates a Provider over the OpenAI (or
// OpenAI-compatible) chat completions API. apiKeyEnv names the
// environment variable holding the API key.
func NewOpenAIProvider(baseURL, apiKeyEnv, model, systemPrompt string, maxTokens int) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(os.Getenv(apiKeyEnv))}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client:       openai.NewClient(opts...),
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
	}
}

func (p *OpenAIProvider) Close() error { return nil }

func (p *OpenAIProvider) Complete(ctx context.Context, messages []conversation.Message, tools []ToolDefinition, opts Options) (*CompletionResult, error) {
	return withRetry(ctx, func() (*CompletionResult, error) {
		start := time.Now()
		params := p.buildParams(messages, tools, opts)

		completion, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, classifyOpenAIError(err)
		}

		result := completionToResult(completion)
		result.LatencyMs = float64(time.Since(start).Milliseconds())
		metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
		return result, nil
	})
}

func (p *OpenAIProvider) StreamComplete(ctx context.Context, messages []conversation.Message, tools []ToolDefinition, opts Options, onToken TokenCallback) (*CompletionResult, error) {
	return withRetry(ctx, func() (*CompletionResult, error) {
		start := time.Now()
		params := p.buildParams(messages, tools, opts)

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		acc := openai.ChatCompletionAccumulator{}
		var ttft time.Time

		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if ttft.IsZero() {
					ttft = time.Now()
				}
				if onToken != nil {
					onToken(chunk.Choices[0].Delta.Content)
				}
			}
		}
		if err := stream.Err(); err != nil {
			return nil, classifyOpenAIError(err)
		}

		result := completionToResult(&acc.ChatCompletion)
		result.LatencyMs = float64(time.Since(start).Milliseconds())
		if !ttft.IsZero() {
			result.TimeToFirstTokenMs = float64(ttft.Sub(start).Milliseconds())
		}
		metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
		return result, nil
	})
}

func (p *OpenAIProvider) buildParams(messages []conversation.Message, tools []ToolDefinition, opts Options) openai.ChatCompletionNewParams {
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}
	maxTokens := firstNonZero(opts.MaxTokens, p.maxTokens)

	params := openai.ChatCompletionNewParams{
		Model:     model,
		Messages:  toOpenAIMessages(messages),
		MaxTokens: openai.Int(int64(maxTokens)),
	}
	if len(tools) > 0 {
		params.Tools = toOpenAITools(tools)
	}
	return params
}

func toOpenAIMessages(messages []conversation.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case conversation.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case conversation.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case conversation.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				out = append(out, assistantToolCallMessage(m))
			} else {
				out = append(out, openai.AssistantMessage(m.Content))
			}
		case conversation.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

// assistantToolCallMessage reconstructs an assistant turn that requested
// tool calls, so the next round-trip carries the full context the model
// needs to interpret the tool results that follow.
func assistantToolCallMessage(m conversation.Message) openai.ChatCompletionMessageParamUnion {
	calls := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(m.ToolCalls))
	for _, tc := range m.ToolCalls {
		calls = append(calls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.ArgumentsJSON,
				},
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{
		OfAssistant: &openai.ChatCompletionAssistantMessageParam{
			Content:   openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(m.Content)},
			ToolCalls: calls,
		},
	}
}

func toOpenAITools(tools []ToolDefinition) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.Parameters),
		}))
	}
	return out
}

func completionToResult(completion *openai.ChatCompletion) *CompletionResult {
	result := &CompletionResult{}
	if completion == nil || len(completion.Choices) == 0 {
		return result
	}
	choice := completion.Choices[0]
	result.Text = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return result
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if ok := asOpenAIError(err, &apiErr); ok {
		switch apiErr.StatusCode {
		case 429:
			return fmt.Errorf("%w: %v", ErrRateLimit, err)
		case 400, 422:
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		case 408, 504:
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		default:
			if apiErr.StatusCode >= 500 {
				return fmt.Errorf("%w: %v", ErrConnection, err)
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrLLM, err)
}

func asOpenAIError(err error, target **openai.Error) bool {
	apiErr, ok := err.(*openai.Error)
	if ok {
		*target = apiErr
	}
	return ok
}
