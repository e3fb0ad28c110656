package lifecycle

import (
	"context"
	"testing"

	"github.com/quietsignal/voxd/internal/conversation"
	"github.com/quietsignal/voxd/internal/errs"
	"github.com/quietsignal/voxd/internal/inlineai"
	"github.com/quietsignal/voxd/internal/llm"
	"github.com/quietsignal/voxd/internal/metrics"
	"github.com/quietsignal/voxd/internal/protocol"
)

type scriptedProvider struct {
	text string
	err  error
}

func (p *scriptedProvider) Complete(ctx context.Context, messages []conversation.Message, tools []llm.ToolDefinition, opts llm.Options) (*llm.CompletionResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResult{Text: p.text}, nil
}

func (p *scriptedProvider) StreamComplete(ctx context.Context, messages []conversation.Message, tools []llm.ToolDefinition, opts llm.Options, onToken llm.TokenCallback) (*llm.CompletionResult, error) {
	return p.Complete(ctx, messages, tools, opts)
}

func (p *scriptedProvider) Close() error { return nil }

// newTestAssistant builds an Assistant with hand-injected components,
// skipping Initialize entirely so tests never touch a real microphone,
// LLM endpoint, or TTS server.
func newTestAssistant() *Assistant {
	provider := &scriptedProvider{text: "Rewritten text."}
	return &Assistant{
		status:      StatusIdle,
		errorPolicy: errs.NewPolicy(),
		llmProvider: provider,
		inlineSvc:   inlineai.New(provider, "gpt", 0.7),
		convStore:   conversation.New(conversation.Config{SystemPrompt: "you are a test assistant"}),
		metricsColl: metrics.NewCollector(0),
	}
}

func TestHandleCommandGetStatusReportsIdleAndConversation(t *testing.T) {
	a := newTestAssistant()
	out := a.HandleCommand(context.Background(), protocol.Command{Type: "get_status", RequestID: "1"})
	if out.Type != "status" || out.RequestID != "1" {
		t.Fatalf("unexpected envelope: %+v", out)
	}
	result, ok := out.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %T", out.Result)
	}
	if result["status"] != StatusIdle {
		t.Fatalf("expected idle status, got %v", result["status"])
	}
}

func TestHandleCommandGetMetricsReportsSnapshot(t *testing.T) {
	a := newTestAssistant()
	out := a.HandleCommand(context.Background(), protocol.Command{Type: "get_metrics", RequestID: "2"})
	if out.Type != "metrics" || out.RequestID != "2" {
		t.Fatalf("unexpected envelope: %+v", out)
	}
	if _, ok := out.Result.(metrics.SystemStats); !ok {
		t.Fatalf("expected metrics.SystemStats result, got %T", out.Result)
	}
}

func TestHandleCommandClearConversationResetsStore(t *testing.T) {
	a := newTestAssistant()
	a.convStore.AddUser("hello")
	a.convStore.AddAssistant("hi there")

	out := a.HandleCommand(context.Background(), protocol.Command{Type: "clear_conversation", RequestID: "3"})
	if out.Type != "clear_conversation_complete" {
		t.Fatalf("unexpected kind: %q", out.Type)
	}
	info := a.GetConversationInfo()
	if info.MessageCount != 1 {
		t.Fatalf("expected cleared conversation (system message only), got %d messages", info.MessageCount)
	}
}

func TestHandleCommandRewriteTextReturnsTransformedText(t *testing.T) {
	a := newTestAssistant()
	out := a.HandleCommand(context.Background(), protocol.Command{
		Type:      "rewrite_text",
		Text:      "hey whats up",
		Tone:      "professional",
		RequestID: "4",
	})
	if out.Type != "rewrite_complete" {
		t.Fatalf("unexpected kind: %q, error=%q", out.Type, out.Error)
	}
	if out.Original != "hey whats up" || out.Rewritten != "Rewritten text." || out.Tone != "professional" {
		t.Fatalf("unexpected rewrite fields: %+v", out)
	}
}

func TestHandleCommandRewriteTextPropagatesEmptyTextError(t *testing.T) {
	a := newTestAssistant()
	out := a.HandleCommand(context.Background(), protocol.Command{Type: "rewrite_text", RequestID: "5"})
	if out.Type != "inline_ai_error" || out.Error == "" {
		t.Fatalf("expected inline_ai_error, got %+v", out)
	}
}

func TestHandleCommandSummarizeDefaultsMaxSentences(t *testing.T) {
	a := newTestAssistant()
	a.llmProvider.(*scriptedProvider).text = "Short summary."
	out := a.HandleCommand(context.Background(), protocol.Command{
		Type:      "summarize_text",
		Text:      "a long passage of text to summarize",
		RequestID: "6",
	})
	if out.Type != "summarize_complete" {
		t.Fatalf("unexpected kind: %q, error=%q", out.Type, out.Error)
	}
}

func TestHandleCommandFormatRejectsUnknownFormat(t *testing.T) {
	a := newTestAssistant()
	out := a.HandleCommand(context.Background(), protocol.Command{
		Type:      "format_text",
		Text:      "some text",
		Format:    "not_a_real_format",
		RequestID: "7",
	})
	if out.Type != "inline_ai_error" {
		t.Fatalf("expected inline_ai_error for unknown format, got %+v", out)
	}
}

func TestHandleCommandComposeUsesPromptAndContext(t *testing.T) {
	a := newTestAssistant()
	a.llmProvider.(*scriptedProvider).text = "Generated content."
	out := a.HandleCommand(context.Background(), protocol.Command{
		Type:      "compose_text",
		Prompt:    "write a haiku",
		Context:   "about the ocean",
		RequestID: "8",
	})
	if out.Type != "compose_complete" {
		t.Fatalf("unexpected kind: %q, error=%q", out.Type, out.Error)
	}
}

func TestHandleCommandInterruptIsANoOpWithoutOrchestrator(t *testing.T) {
	a := newTestAssistant()
	out := a.HandleCommand(context.Background(), protocol.Command{Type: "interrupt", RequestID: "9"})
	if out.Type != "interrupt_complete" {
		t.Fatalf("unexpected kind: %q", out.Type)
	}
}

func TestHandleCommandUnknownTypeReturnsError(t *testing.T) {
	a := newTestAssistant()
	out := a.HandleCommand(context.Background(), protocol.Command{Type: "not_a_real_command", RequestID: "10"})
	if out.Type != "inline_ai_error" || out.Error == "" {
		t.Fatalf("expected error response for unknown command, got %+v", out)
	}
}

func TestSetStatusInvokesCallbackAndEmitter(t *testing.T) {
	a := newTestAssistant()

	var gotStatus Status
	a.SetStatusCallback(func(s Status) { gotStatus = s })

	var emitted []protocol.OutMessage
	a.SetEmitter(func(msg protocol.OutMessage) { emitted = append(emitted, msg) })

	a.setStatus(StatusProcessing)

	if gotStatus != StatusProcessing {
		t.Fatalf("expected callback to observe StatusProcessing, got %q", gotStatus)
	}
	if len(emitted) != 1 || emitted[0].Type != "STATUS" || emitted[0].Status != string(StatusProcessing) {
		t.Fatalf("expected one STATUS emission, got %+v", emitted)
	}
}

func TestGetStatusReturnsCurrentStatus(t *testing.T) {
	a := newTestAssistant()
	if got := a.GetStatus(); got != StatusIdle {
		t.Fatalf("expected idle, got %q", got)
	}
	a.setStatus(StatusListening)
	if got := a.GetStatus(); got != StatusListening {
		t.Fatalf("expected listening, got %q", got)
	}
}
