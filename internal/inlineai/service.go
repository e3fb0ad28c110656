package inlineai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/quietsignal/voxd/internal/conversation"
	"github.com/quietsignal/voxd/internal/llm"
)

// ErrEmptyText is returned when the caller supplies no text to transform.
var ErrEmptyText = errors.New("inlineai: no text provided")

const (
	minTextLength = 1
	maxTextLength = 10000
)

// ProofreadResult is the structured outcome of Proofread when show_changes
// is requested.
type ProofreadResult struct {
	Corrected string   `json:"corrected"`
	Changes   []string `json:"changes,omitempty"`
}

// Service runs the five inline text transforms against one LLM provider.
type Service struct {
	provider    llm.Provider
	model       string
	temperature float64
}

// New creates a Service bound to provider, using model/temperature for
// every transform call.
func New(provider llm.Provider, model string, temperature float64) *Service {
	return &Service{provider: provider, model: model, temperature: temperature}
}

// Rewrite rewrites text in the requested tone (professional|friendly|concise).
func (s *Service) Rewrite(ctx context.Context, text, tone string) (string, error) {
	if err := validateLength(text); err != nil {
		return "", err
	}
	return s.complete(ctx, buildRewritePrompt(text, tone))
}

// Proofread corrects grammar/spelling/style errors. When showChanges is
// set, the LLM is asked for structured JSON; on a parse failure, this
// falls back to treating the raw completion as the corrected text with no
// change list, rather than failing the whole request.
func (s *Service) Proofread(ctx context.Context, text string, showChanges bool) (*ProofreadResult, error) {
	if err := validateLength(text); err != nil {
		return nil, err
	}
	raw, err := s.complete(ctx, buildProofreadPrompt(text, showChanges))
	if err != nil {
		return nil, err
	}
	if !showChanges {
		return &ProofreadResult{Corrected: raw}, nil
	}

	var parsed ProofreadResult
	if jsonErr := json.Unmarshal([]byte(extractJSON(raw)), &parsed); jsonErr == nil && parsed.Corrected != "" {
		return &parsed, nil
	}
	return &ProofreadResult{Corrected: raw}, nil
}

// Summarize produces a summary capped at maxSentences (1 for the
// single-sentence template). The word count of text is computed here and
// picks the short-form template for brief input.
func (s *Service) Summarize(ctx context.Context, text string, maxSentences int) (string, error) {
	if err := validateLength(text); err != nil {
		return "", err
	}
	wordCount := len(strings.Fields(text))
	return s.complete(ctx, buildSummaryPrompt(text, maxSentences, wordCount))
}

// FormatKind selects which Format transform to run.
type FormatKind string

const (
	FormatKeyPoints FormatKind = "key_points"
	FormatList      FormatKind = "list"
	FormatTable     FormatKind = "table"
)

// Format reshapes text per kind. numPoints is only consulted for
// FormatKeyPoints; 0 means auto-detect the point count.
func (s *Service) Format(ctx context.Context, text string, kind FormatKind, numPoints int) (string, error) {
	if err := validateLength(text); err != nil {
		return "", err
	}
	switch kind {
	case FormatKeyPoints:
		return s.complete(ctx, buildKeyPointsPrompt(text, numPoints))
	case FormatList:
		return s.complete(ctx, buildListPrompt(text))
	case FormatTable:
		return s.complete(ctx, buildTablePrompt(text))
	default:
		return "", fmt.Errorf("inlineai: unknown format kind %q", kind)
	}
}

// Compose generates new content from a prompt, optionally grounded in
// supplied context.
func (s *Service) Compose(ctx context.Context, prompt, context_ string) (string, error) {
	if err := validateLength(prompt); err != nil {
		return "", err
	}
	return s.complete(ctx, buildComposePrompt(prompt, context_))
}

func (s *Service) complete(ctx context.Context, prompt string) (string, error) {
	messages := []conversation.Message{{Role: conversation.RoleUser, Content: prompt}}
	result, err := s.provider.Complete(ctx, messages, nil, llm.Options{
		Model:       s.model,
		Temperature: s.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("inlineai: completion failed: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// validateLength normalizes text to NFC before counting runes, so a
// multi-codepoint grapheme isn't double-counted against the bounds.
func validateLength(text string) error {
	normalized := norm.NFC.String(text)
	if len([]rune(normalized)) < minTextLength {
		return ErrEmptyText
	}
	return nil
}

// extractJSON trims any leading/trailing prose a model adds around a JSON
// object despite being asked for JSON only, returning the substring from
// the first '{' to the last '}'.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
