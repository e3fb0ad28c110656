package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type echoHandler struct {
	calls []Command
}

func (h *echoHandler) HandleCommand(ctx context.Context, cmd Command) OutMessage {
	h.calls = append(h.calls, cmd)
	return OutMessage{Type: cmd.Type + "_complete", RequestID: cmd.RequestID}
}

func TestRunDispatchesEachLineToHandler(t *testing.T) {
	input := strings.NewReader(
		`{"command":"get_status","request_id":"1"}` + "\n" +
			`{"command":"interrupt","request_id":"2"}` + "\n",
	)
	var out bytes.Buffer
	h := &echoHandler{}
	s := NewServer(input, &out, h)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.calls) != 2 {
		t.Fatalf("expected 2 dispatched commands, got %d", len(h.calls))
	}
	if h.calls[0].Type != "get_status" || h.calls[1].Type != "interrupt" {
		t.Fatalf("unexpected dispatch order: %+v", h.calls)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 output lines, got %d: %q", len(lines), out.String())
	}
	var first OutMessage
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first output line: %v", err)
	}
	if first.Type != "get_status_complete" || first.RequestID != "1" {
		t.Fatalf("unexpected first output: %+v", first)
	}
}

func TestRunSkipsLinesMissingCommandField(t *testing.T) {
	input := strings.NewReader(
		`{"not_a_command":"oops"}` + "\n" +
			`{"command":"get_status"}` + "\n",
	)
	var out bytes.Buffer
	h := &echoHandler{}
	s := NewServer(input, &out, h)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.calls) != 1 {
		t.Fatalf("expected exactly 1 dispatched command, got %d", len(h.calls))
	}
}

func TestRunSkipsMalformedJSON(t *testing.T) {
	input := strings.NewReader(
		"not json at all\n" +
			`{"command":"get_status"}` + "\n",
	)
	var out bytes.Buffer
	h := &echoHandler{}
	s := NewServer(input, &out, h)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.calls) != 1 {
		t.Fatalf("expected exactly 1 dispatched command, got %d", len(h.calls))
	}
}

func TestEmitWritesJSONLine(t *testing.T) {
	var out bytes.Buffer
	s := NewServer(strings.NewReader(""), &out, &echoHandler{})
	s.Emit(OutMessage{Type: "EVENT", Event: "wake_word_detected"})

	var msg OutMessage
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &msg); err != nil {
		t.Fatalf("unmarshal emitted line: %v", err)
	}
	if msg.Type != "EVENT" || msg.Event != "wake_word_detected" {
		t.Fatalf("unexpected emitted message: %+v", msg)
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	input := strings.NewReader(
		`{"command":"get_status"}` + "\n" +
			`{"command":"get_status"}` + "\n",
	)
	var out bytes.Buffer
	h := &echoHandler{}
	s := NewServer(input, &out, h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx)
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
}
