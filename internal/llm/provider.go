// Package llm defines the completion/streaming/tool-call contract every
// language-model backend implements, plus the backend-name dispatch used
// to route a request to the configured provider.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/quietsignal/voxd/internal/conversation"
	"github.com/quietsignal/voxd/internal/errs"
)

// ToolDefinition describes one callable tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
}

// ToolCall is a model-requested invocation of a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// CompletionResult is the complete output of one provider call.
type CompletionResult struct {
	Text               string
	Thinking           string
	ToolCalls          []ToolCall
	LatencyMs          float64
	TimeToFirstTokenMs float64
}

// ToRecords converts provider tool calls into the durable shape the
// conversation store keeps alongside the assistant message that requested
// them, so a later turn can replay the full round-trip.
func ToRecords(calls []ToolCall) []conversation.ToolCallRecord {
	if len(calls) == 0 {
		return nil
	}
	out := make([]conversation.ToolCallRecord, 0, len(calls))
	for _, tc := range calls {
		argsJSON, err := json.Marshal(tc.Arguments)
		if err != nil {
			argsJSON = []byte("{}")
		}
		out = append(out, conversation.ToolCallRecord{ID: tc.ID, Name: tc.Name, ArgumentsJSON: string(argsJSON)})
	}
	return out
}

// TokenCallback is invoked for each streamed text token.
type TokenCallback func(token string)

// Options carries per-call generation parameters.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Provider is implemented by every LLM backend.
type Provider interface {
	// Complete runs a non-streaming completion.
	Complete(ctx context.Context, messages []conversation.Message, tools []ToolDefinition, opts Options) (*CompletionResult, error)
	// StreamComplete runs a completion, invoking onToken for each text
	// token as it arrives. Tool calls, if any, are only known once the
	// stream completes and are returned in the result.
	StreamComplete(ctx context.Context, messages []conversation.Message, tools []ToolDefinition, opts Options, onToken TokenCallback) (*CompletionResult, error)
	Close() error
}

// Typed provider errors. Backends wrap the underlying cause with one of
// these so the error policy can classify failures without string-sniffing
// transport details.
var (
	ErrConnection    = errors.New("llm: connection error")
	ErrTimeout       = errors.New("llm: timeout")
	ErrRateLimit     = errors.New("llm: rate limited")
	ErrInvalidRequest = errors.New("llm: invalid request")
	ErrLLM           = errors.New("llm: provider error")
)

// retryPolicy is the provider-internal retry schedule for transient
// connection/timeout failures: initial 2s, base 2, cap 10s, <=3 attempts.
// It reuses the same backoff formula as the stage-level error policy so
// there is exactly one place that formula lives.
var retryPolicy = errs.NewPolicy()

const maxInternalRetries = 3

// withRetry runs fn up to maxInternalRetries times in all, waiting an
// exponential backoff after each failure that wraps ErrConnection or
// ErrTimeout.
func withRetry(ctx context.Context, fn func() (*CompletionResult, error)) (*CompletionResult, error) {
	var lastErr error
	for attempt := 0; attempt < maxInternalRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !errors.Is(err, ErrConnection) && !errors.Is(err, ErrTimeout) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryPolicy.Backoff(attempt)):
		}
	}
	return nil, lastErr
}
