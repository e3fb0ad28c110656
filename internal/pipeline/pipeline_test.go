package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/quietsignal/voxd/internal/audiopipeline"
	"github.com/quietsignal/voxd/internal/conversation"
	"github.com/quietsignal/voxd/internal/errs"
	"github.com/quietsignal/voxd/internal/llm"
)

// fakeLLM is a scripted Provider returning one CompletionResult per call,
// in order, so a test can assert exactly how many round trips occurred.
type fakeLLM struct {
	results []*llm.CompletionResult
	calls   int
}

func (f *fakeLLM) Complete(ctx context.Context, messages []conversation.Message, tools []llm.ToolDefinition, opts llm.Options) (*llm.CompletionResult, error) {
	if f.calls >= len(f.results) {
		return f.results[len(f.results)-1], nil
	}
	r := f.results[f.calls]
	f.calls++
	return r, nil
}

func (f *fakeLLM) StreamComplete(ctx context.Context, messages []conversation.Message, tools []llm.ToolDefinition, opts llm.Options, onToken llm.TokenCallback) (*llm.CompletionResult, error) {
	return f.Complete(ctx, messages, tools, opts)
}

func (f *fakeLLM) Close() error { return nil }

func newTestConversation() *conversation.Store {
	return conversation.New(conversation.Config{SystemPrompt: "sys", MaxTurns: 20})
}

func TestProcessAudioEventIgnoresNonUtteranceEvents(t *testing.T) {
	o := New(Config{Conversation: newTestConversation(), ErrorPolicy: errs.NewPolicy()})
	result, err := o.ProcessAudioEvent(context.Background(), audiopipeline.Event{Kind: audiopipeline.EventWakeTriggered})
	if err != nil || result != nil {
		t.Fatalf("expected nil result for non-utterance event, got result=%+v err=%v", result, err)
	}
}

func TestRunLLMWithToolsStopsWhenNoToolCallsReturned(t *testing.T) {
	conv := newTestConversation()
	conv.AddUser("hello")
	o := New(Config{
		Conversation: conv,
		LLM:          &fakeLLM{results: []*llm.CompletionResult{{Text: "hi there"}}},
		ErrorPolicy:  errs.NewPolicy(),
	})

	text, toolCalls, err := o.runLLMWithTools(context.Background(), map[string]float64{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hi there" || toolCalls != 0 {
		t.Fatalf("unexpected result: text=%q toolCalls=%d", text, toolCalls)
	}
}

func TestRunLLMWithToolsExecutesRequestedToolThenStops(t *testing.T) {
	conv := newTestConversation()
	conv.AddUser("what's the weather")
	fake := &fakeLLM{results: []*llm.CompletionResult{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: map[string]any{"city": "Seattle"}}}},
		{Text: "It's sunny in Seattle."},
	}}
	o := New(Config{
		Conversation: conv,
		LLM:          fake,
		ErrorPolicy:  errs.NewPolicy(),
		// Tools left nil: callTool substitutes an error string rather than calling out.
	})

	text, toolCalls, err := o.runLLMWithTools(context.Background(), map[string]float64{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toolCalls != 1 {
		t.Fatalf("expected 1 tool call, got %d", toolCalls)
	}
	if text != "It's sunny in Seattle." {
		t.Fatalf("unexpected final text: %q", text)
	}

	msgs := conv.Messages()
	var sawToolResult bool
	for _, m := range msgs {
		if m.Role == conversation.RoleTool && m.Content == "Error: Tool execution not available" {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Fatal("expected a tool-result message substituting the unavailable-tools error")
	}
}

func TestRunLLMWithToolsRespectsIterationCap(t *testing.T) {
	conv := newTestConversation()
	conv.AddUser("loop forever")
	// Every call requests another tool call, so the cap must kick in.
	looping := &llm.CompletionResult{ToolCalls: []llm.ToolCall{{ID: "call_x", Name: "noop", Arguments: map[string]any{}}}}
	fake := &fakeLLM{results: []*llm.CompletionResult{looping, looping, looping, looping, looping, {Text: "giving up"}}}
	o := New(Config{
		Conversation:      conv,
		LLM:               fake,
		ErrorPolicy:       errs.NewPolicy(),
		MaxToolIterations: 3,
	})

	text, toolCalls, err := o.runLLMWithTools(context.Background(), map[string]float64{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toolCalls != 3 {
		t.Fatalf("expected exactly 3 tool calls (cap), got %d", toolCalls)
	}
	if text != "giving up" {
		t.Fatalf("expected the post-cap completion text, got %q", text)
	}
}

// erroringLLM always fails, to exercise the LLM-stage error path in run().
type erroringLLM struct{}

func (erroringLLM) Complete(ctx context.Context, messages []conversation.Message, tools []llm.ToolDefinition, opts llm.Options) (*llm.CompletionResult, error) {
	return nil, errors.New("connection refused")
}
func (erroringLLM) StreamComplete(ctx context.Context, messages []conversation.Message, tools []llm.ToolDefinition, opts llm.Options, onToken llm.TokenCallback) (*llm.CompletionResult, error) {
	return nil, errors.New("connection refused")
}
func (erroringLLM) Close() error { return nil }

func TestCallToolWithoutBrokerReturnsSentinelError(t *testing.T) {
	o := New(Config{Conversation: newTestConversation(), ErrorPolicy: errs.NewPolicy()})
	got := o.callTool(context.Background(), llm.ToolCall{ID: "1", Name: "anything"})
	if got != "Error: Tool execution not available" {
		t.Fatalf("unexpected tool error string: %q", got)
	}
}

func TestInterruptIsSafeWithNilTTS(t *testing.T) {
	o := New(Config{Conversation: newTestConversation(), ErrorPolicy: errs.NewPolicy()})
	o.Interrupt() // must not panic
}

func TestTranscriptOfHandlesNilTranscription(t *testing.T) {
	r := &Result{}
	if got := transcriptOf(r); got != "" {
		t.Fatalf("expected empty transcript for nil Transcription, got %q", got)
	}
}
