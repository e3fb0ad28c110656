package conversation

import (
	"testing"
	"time"
)

func TestNewSeedsSystemPrompt(t *testing.T) {
	s := New(Config{SystemPrompt: "be helpful", MaxTurns: 5})
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Role != RoleSystem || msgs[0].Content != "be helpful" {
		t.Fatalf("expected single system message, got %+v", msgs)
	}
}

func TestPruningKeepsSystemPromptAndCapsTurns(t *testing.T) {
	s := New(Config{SystemPrompt: "sys", MaxTurns: 2})
	for i := 0; i < 5; i++ {
		s.AddExchange("q", "a")
	}
	msgs := s.Messages()
	// cap = 1 + 2*2 = 5
	if len(msgs) != 5 {
		t.Fatalf("expected message log capped at 5, got %d", len(msgs))
	}
	if msgs[0].Role != RoleSystem {
		t.Fatal("expected system prompt to survive pruning")
	}
}

func TestClearReseedsSystemPrompt(t *testing.T) {
	s := New(Config{SystemPrompt: "sys", MaxTurns: 5})
	s.AddUser("hi")
	s.Clear()
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Role != RoleSystem {
		t.Fatalf("expected Clear to reset to just the system prompt, got %+v", msgs)
	}
}

func TestIdleTimeoutTriggersResetOnNextUserMessage(t *testing.T) {
	s := New(Config{SystemPrompt: "sys", MaxTurns: 5, IdleTimeout: 10 * time.Millisecond})
	s.AddUser("first")
	time.Sleep(20 * time.Millisecond)
	s.AddUser("second")

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected reset+new message (system, second), got %d messages", len(msgs))
	}
	if msgs[1].Content != "second" {
		t.Fatalf("expected surviving message to be 'second', got %q", msgs[1].Content)
	}
}

func TestRecentTurnsExcludesSystemMessage(t *testing.T) {
	s := New(Config{SystemPrompt: "sys", MaxTurns: 10})
	s.AddExchange("q1", "a1")
	s.AddExchange("q2", "a2")

	recent := s.RecentTurns(1)
	if len(recent) != 2 {
		t.Fatalf("expected last turn (2 messages), got %d", len(recent))
	}
	if recent[0].Content != "q2" || recent[1].Content != "a2" {
		t.Fatalf("expected most recent turn, got %+v", recent)
	}
}

func TestAddAssistantToolCallsPreservesRecords(t *testing.T) {
	s := New(Config{SystemPrompt: "sys", MaxTurns: 5})
	s.AddUser("what's the weather")
	s.AddAssistantToolCalls("", []ToolCallRecord{{ID: "call_1", Name: "get_weather", ArgumentsJSON: `{"city":"Seattle"}`}})
	s.AddTool("call_1", "get_weather", "62F and cloudy")

	msgs := s.Messages()
	assistant := msgs[2]
	if assistant.Role != RoleAssistant || len(assistant.ToolCalls) != 1 {
		t.Fatalf("expected assistant message with 1 tool call, got %+v", assistant)
	}
	if assistant.ToolCalls[0].Name != "get_weather" {
		t.Fatalf("unexpected tool call name: %+v", assistant.ToolCalls[0])
	}
}

func TestSessionInfoReportsEstimatedTokens(t *testing.T) {
	s := New(Config{SystemPrompt: "abcd", MaxTurns: 5}) // 4 chars -> 1 token
	info := s.SessionInfo()
	if info.EstimatedTokens != 1 {
		t.Fatalf("expected 1 estimated token for a 4-char system prompt, got %d", info.EstimatedTokens)
	}
}

func TestPruningDropsOldestMessagesOverTokenBudget(t *testing.T) {
	// "sys" -> 0 tokens; each exchange message is 16 chars -> 4 tokens, so
	// an 8-token budget leaves room for one exchange (8 tokens) at most.
	s := New(Config{SystemPrompt: "sys", MaxTurns: 50, MaxContextTokens: 8})
	s.AddExchange("0123456789012345", "0123456789012345")
	s.AddExchange("aaaaaaaaaaaaaaaa", "aaaaaaaaaaaaaaaa")
	s.AddExchange("bbbbbbbbbbbbbbbb", "bbbbbbbbbbbbbbbb")

	msgs := s.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected system message plus the most recent exchange (3 messages), got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != RoleSystem {
		t.Fatal("expected system prompt to survive token-based pruning")
	}
	if msgs[1].Content != "bbbbbbbbbbbbbbbb" || msgs[2].Content != "bbbbbbbbbbbbbbbb" {
		t.Fatalf("expected only the most recent exchange to survive, got %+v", msgs)
	}
}

func TestPruningByTokensNeverDropsTheSystemMessageAlone(t *testing.T) {
	s := New(Config{SystemPrompt: "a very long system prompt that alone exceeds the budget", MaxTurns: 50, MaxContextTokens: 1})
	s.AddUser("hi")
	msgs := s.Messages()
	if len(msgs) == 0 || msgs[0].Role != RoleSystem {
		t.Fatalf("expected the system message to always survive, got %+v", msgs)
	}
}

func TestMessagesAppliesIdleResetLazily(t *testing.T) {
	s := New(Config{SystemPrompt: "sys", MaxTurns: 5, IdleTimeout: 10 * time.Millisecond})
	s.AddUser("first")
	time.Sleep(20 * time.Millisecond)

	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Role != RoleSystem {
		t.Fatalf("expected Messages() to observe the idle reset without a new append, got %+v", msgs)
	}
}
