package llm

import (
	"context"

	"github.com/quietsignal/voxd/internal/conversation"
	"github.com/quietsignal/voxd/internal/errs"
)

// FallbackProvider tries primary first; if primary fails with an error the
// policy classifies as retryable via fallback, it retries the same call
// once against fallback instead. A failure that classifies any other way
// is returned as-is, since only a fallback-worthy failure warrants
// switching providers mid-request.
type FallbackProvider struct {
	primary  Provider
	fallback Provider
	policy   errs.Policy
}

// NewFallbackProvider wraps primary/fallback behind the policy's
// classification of LLM-stage failures.
func NewFallbackProvider(primary, fallback Provider, policy errs.Policy) *FallbackProvider {
	return &FallbackProvider{primary: primary, fallback: fallback, policy: policy}
}

func (f *FallbackProvider) Complete(ctx context.Context, messages []conversation.Message, tools []ToolDefinition, opts Options) (*CompletionResult, error) {
	result, err := f.primary.Complete(ctx, messages, tools, opts)
	if err == nil {
		return result, nil
	}
	if !f.shouldFallback(err) {
		return nil, err
	}
	return f.fallback.Complete(ctx, messages, tools, opts)
}

func (f *FallbackProvider) StreamComplete(ctx context.Context, messages []conversation.Message, tools []ToolDefinition, opts Options, onToken TokenCallback) (*CompletionResult, error) {
	result, err := f.primary.StreamComplete(ctx, messages, tools, opts, onToken)
	if err == nil {
		return result, nil
	}
	if !f.shouldFallback(err) {
		return nil, err
	}
	return f.fallback.StreamComplete(ctx, messages, tools, opts, onToken)
}

// Close closes both the primary and fallback providers, returning the
// first error encountered.
func (f *FallbackProvider) Close() error {
	primaryErr := f.primary.Close()
	fallbackErr := f.fallback.Close()
	if primaryErr != nil {
		return primaryErr
	}
	return fallbackErr
}

func (f *FallbackProvider) shouldFallback(err error) bool {
	se := errs.New(errs.KindLLM, "llm", err)
	return f.policy.Classify(se) == errs.ActionFallback
}
