// Package protocol implements the line-delimited JSON command stream on
// stdin/stdout: one JSON object per incoming command line, one JSON object
// per outgoing event/status line. Malformed input lines are logged and
// ignored rather than closing the stream.
package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/tidwall/gjson"
)

// Command is the fully-decoded shape of one incoming line, covering every
// field any command type might carry. Handlers read only the fields their
// command uses.
type Command struct {
	Type string `json:"command"`

	Text         string  `json:"text,omitempty"`
	ShowChanges  bool    `json:"show_changes,omitempty"`
	Tone         string  `json:"tone,omitempty"`
	Format       string  `json:"format,omitempty"`
	MaxSentences int     `json:"max_sentences,omitempty"`
	NumPoints    int     `json:"num_points,omitempty"`
	Prompt       string  `json:"prompt,omitempty"`
	Context      string  `json:"context,omitempty"`
	MaxLength    int     `json:"max_length,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	RequestID    string  `json:"request_id,omitempty"`
}

// OutMessage is the fully-decoded shape of one outgoing line: an event, a
// status update, or an inline-AI completion/error. The "type" field is
// preserved on the wire for every message so a client can dispatch on it
// without inspecting the rest of the envelope.
type OutMessage struct {
	Type string `json:"type"` // "EVENT" | "STATUS" | a *_complete/_error command echo

	Event     string `json:"event,omitempty"`
	Status    string `json:"status,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`

	// Per-command named fields for the inline-AI transform completions, set
	// instead of Result so each command's own vocabulary (original/
	// rewritten/tone, etc.) is visible directly on the wire.
	Original  string   `json:"original,omitempty"`
	Rewritten string   `json:"rewritten,omitempty"`
	Tone      string   `json:"tone,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	Corrected string   `json:"corrected,omitempty"`
	Changes   []string `json:"changes,omitempty"`
	Formatted string   `json:"formatted,omitempty"`
	Prompt    string   `json:"prompt,omitempty"`
	Composed  string   `json:"composed,omitempty"`
}

// Handler processes one decoded command. Implementations live in the
// lifecycle package, which owns every component the commands touch.
type Handler interface {
	HandleCommand(ctx context.Context, cmd Command) OutMessage
}

// Server reads command lines from r, dispatches each to handler, and
// writes resulting/async OutMessages as JSON lines to w. Safe for
// concurrent writers (the handler's own goroutines may emit STATUS/EVENT
// lines asynchronously via Emit).
type Server struct {
	handler Handler
	r       *bufio.Scanner
	w       io.Writer
	mu      sync.Mutex
}

// NewServer creates a Server reading from r and writing to w.
func NewServer(r io.Reader, w io.Writer, handler Handler) *Server {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Server{handler: handler, r: scanner, w: w}
}

// Emit writes one OutMessage as a JSON line, for asynchronous
// events/status updates not tied to a specific command response.
func (s *Server) Emit(msg OutMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("protocol: marshal outgoing message failed", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := s.w.Write(data); err != nil {
		slog.Warn("protocol: write outgoing message failed", "error", err)
	}
}

// Run reads command lines until EOF or ctx is cancelled, dispatching each
// to the handler and emitting its response. Malformed lines (not valid
// JSON, or missing a "command" field) are logged and skipped.
func (s *Server) Run(ctx context.Context) error {
	for s.r.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := s.r.Bytes()
		if len(line) == 0 {
			continue
		}

		cmdType := gjson.GetBytes(line, "command")
		if !cmdType.Exists() {
			slog.Warn("protocol: line missing command field, ignoring", "line", string(line))
			continue
		}

		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			slog.Warn("protocol: malformed command line, ignoring", "error", err)
			continue
		}

		out := s.handler.HandleCommand(ctx, cmd)
		s.Emit(out)
	}
	return s.r.Err()
}
