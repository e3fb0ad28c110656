// Package errs classifies pipeline stage failures into a small recovery
// action vocabulary and computes the backoff schedule for retryable
// failures. Stage code never chooses its own error prose; it raises a
// *StageError with a Kind, and this package owns what happens next.
package errs

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Kind classifies which stage produced a failure.
type Kind string

const (
	KindSTT     Kind = "stt"
	KindLLM     Kind = "llm"
	KindTool    Kind = "tool"
	KindTTS     Kind = "tts"
	KindAudio   Kind = "audio"
	KindNetwork Kind = "network"
	KindUnknown Kind = "unknown"
)

// Action is the recovery action the orchestrator should take for a failure.
type Action string

const (
	ActionRetry    Action = "retry"
	ActionFallback Action = "fallback"
	ActionSkip     Action = "skip"
	ActionAbort    Action = "abort"
	ActionAskUser  Action = "ask_user"
)

// StageError wraps an underlying error with the stage kind that produced
// it, so the policy table and the metrics/trace layers can classify it
// without string-sniffing.
type StageError struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// New wraps err as a StageError of the given kind/stage.
func New(kind Kind, stage string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

// Policy decides the recovery action for a classified failure and the
// backoff schedule for retries.
type Policy struct {
	InitialDelay time.Duration
	BackoffBase  float64
	MaxDelay     time.Duration
	MaxRetries   int
	SpeakErrors  bool
	Phrases      map[Kind]string
}

// DefaultPhrases are spoken (when SpeakErrors is enabled) for each kind
// when the caller has not overridden them.
func DefaultPhrases() map[Kind]string {
	return map[Kind]string{
		KindSTT:     "Sorry, I didn't catch that. Could you say it again?",
		KindLLM:     "I'm having trouble thinking right now. Please try again in a moment.",
		KindTool:    "I couldn't complete that action, but I'll keep going.",
		KindTTS:     "",
		KindAudio:   "I'm having trouble with the microphone.",
		KindNetwork: "I'm having trouble connecting. Please try again shortly.",
		KindUnknown: "Something went wrong. Please try again.",
	}
}

// NewPolicy returns a Policy with the spec's default backoff schedule.
func NewPolicy() Policy {
	return Policy{
		InitialDelay: 2 * time.Second,
		BackoffBase:  2,
		MaxDelay:     10 * time.Second,
		MaxRetries:   3,
		SpeakErrors:  true,
		Phrases:      DefaultPhrases(),
	}
}

// Classify returns the recovery action for a StageError.
func (p Policy) Classify(se *StageError) Action {
	switch se.Kind {
	case KindSTT:
		return ActionRetry
	case KindLLM:
		return ActionFallback
	case KindTool:
		return ActionSkip
	case KindTTS:
		return ActionSkip
	case KindAudio:
		if isPermissionError(se.Err) {
			return ActionAbort
		}
		return ActionRetry
	case KindNetwork:
		return ActionRetry
	default:
		return ActionAbort
	}
}

// Backoff computes the delay before retry attempt (0-indexed).
func (p Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffBase, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Phrase returns the spoken phrase for a kind, or "" if speaking errors is
// disabled or none is configured.
func (p Policy) Phrase(kind Kind) string {
	if !p.SpeakErrors {
		return ""
	}
	return p.Phrases[kind]
}

func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	var se *StageError
	if errors.As(err, &se) {
		err = se.Err
	}
	return strings.Contains(strings.ToLower(err.Error()), "permission")
}
