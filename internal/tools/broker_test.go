package tools

import (
	"context"
	"testing"
)

func TestValidateArgumentsAcceptsMatchingSchema(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"city": map[string]any{"type": "string"}},
		"required":   []any{"city"},
	}
	if err := validateArguments(schema, map[string]any{"city": "Seattle"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateArgumentsRejectsMissingRequiredField(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"city": map[string]any{"type": "string"}},
		"required":   []any{"city"},
	}
	if err := validateArguments(schema, map[string]any{}); err == nil {
		t.Fatal("expected error for missing required field")
	}
}

func TestValidateArgumentsEmptySchemaAlwaysPasses(t *testing.T) {
	if err := validateArguments(nil, map[string]any{"anything": 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestToSchemaMapDefaultsToEmptyObject(t *testing.T) {
	m := toSchemaMap(nil)
	if m["type"] != "object" {
		t.Fatalf("expected default object type, got %+v", m)
	}
	if _, ok := m["properties"].(map[string]any); !ok {
		t.Fatalf("expected properties map, got %+v", m)
	}
}

func TestListToolsEmptyBrokerReturnsNoTools(t *testing.T) {
	b := New()
	if got := b.ListTools(); len(got) != 0 {
		t.Fatalf("expected no tools, got %d", len(got))
	}
}

func TestCallToolUnknownNameErrors(t *testing.T) {
	b := New()
	if _, err := b.CallTool(context.Background(), "missing", nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}
