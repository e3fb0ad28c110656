package router

import "testing"

func TestRouteFallsBackWhenEngineUnknown(t *testing.T) {
	r := New(map[string]string{"a": "backend-a", "default": "backend-default"}, "default")

	got, err := r.Route("missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "backend-default" {
		t.Fatalf("got %q, want fallback backend-default", got)
	}
}

func TestRouteReturnsErrorWhenNoFallbackRegistered(t *testing.T) {
	r := New(map[string]string{"a": "backend-a"}, "default")
	if _, err := r.Route("missing"); err == nil {
		t.Fatal("expected error when neither the engine nor the fallback is registered")
	}
}

func TestHasAndEngines(t *testing.T) {
	r := New(map[string]string{"a": "x", "b": "y"}, "a")
	if !r.Has("a") || r.Has("z") {
		t.Fatal("Has did not report registered backends correctly")
	}
	if len(r.Engines()) != 2 {
		t.Fatalf("expected 2 engines, got %d", len(r.Engines()))
	}
}
