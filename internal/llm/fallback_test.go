package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/quietsignal/voxd/internal/conversation"
	"github.com/quietsignal/voxd/internal/errs"
)

type stubProvider struct {
	result *CompletionResult
	err    error
	calls  int
	closed bool
}

func (s *stubProvider) Complete(ctx context.Context, messages []conversation.Message, tools []ToolDefinition, opts Options) (*CompletionResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubProvider) StreamComplete(ctx context.Context, messages []conversation.Message, tools []ToolDefinition, opts Options, onToken TokenCallback) (*CompletionResult, error) {
	return s.Complete(ctx, messages, tools, opts)
}

func (s *stubProvider) Close() error { s.closed = true; return nil }

func TestFallbackProviderUsesPrimaryOnSuccess(t *testing.T) {
	primary := &stubProvider{result: &CompletionResult{Text: "from primary"}}
	fallback := &stubProvider{result: &CompletionResult{Text: "from fallback"}}
	p := NewFallbackProvider(primary, fallback, errs.NewPolicy())

	result, err := p.Complete(context.Background(), nil, nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "from primary" || fallback.calls != 0 {
		t.Fatalf("expected primary-only dispatch, got text=%q fallback.calls=%d", result.Text, fallback.calls)
	}
}

func TestFallbackProviderSwitchesOnNetworkError(t *testing.T) {
	primary := &stubProvider{err: errors.New("connection refused")}
	fallback := &stubProvider{result: &CompletionResult{Text: "from fallback"}}
	p := NewFallbackProvider(primary, fallback, errs.NewPolicy())

	result, err := p.Complete(context.Background(), nil, nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "from fallback" || fallback.calls != 1 {
		t.Fatalf("expected fallback dispatch, got text=%q fallback.calls=%d", result.Text, fallback.calls)
	}
}

func TestFallbackProviderClosesBothBackends(t *testing.T) {
	primary := &stubProvider{}
	fallback := &stubProvider{}
	p := NewFallbackProvider(primary, fallback, errs.NewPolicy())
	if err := p.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !primary.closed || !fallback.closed {
		t.Fatalf("expected both backends closed, got primary=%v fallback=%v", primary.closed, fallback.closed)
	}
}
