package stt

import (
	"context"
	"testing"
)

func TestTranscribeEmptySamplesReturnsZeroConfidence(t *testing.T) {
	a := New(Config{BinaryPath: "/bin/true", ModelPath: "model.bin"})
	result, err := a.Transcribe(context.Background(), nil, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Confidence != 0 || result.Text != "" {
		t.Fatalf("expected empty zero-confidence result, got %+v", result)
	}
}

func TestParseOutputStripsMetadataLines(t *testing.T) {
	raw := "whisper_init_from_file: loading model\n" +
		"[00:00:00.000 --> 00:00:02.000]  hello there\n" +
		"\n" +
		"main: processing audio\n"
	got := parseOutput(raw)
	if got != "hello there" {
		t.Fatalf("parseOutput = %q, want %q", got, "hello there")
	}
}

func TestParseOutputJoinsMultipleLines(t *testing.T) {
	raw := "[00:00:00.000 --> 00:00:01.000]  hello\n" +
		"[00:00:01.000 --> 00:00:02.000]  world\n"
	got := parseOutput(raw)
	if got != "hello world" {
		t.Fatalf("parseOutput = %q, want %q", got, "hello world")
	}
}

func TestCacheKeyDeterministicForSameInput(t *testing.T) {
	samples := []float32{0.1, -0.2, 0.3}
	a := cacheKey(samples, 16000, "en", "model-a")
	b := cacheKey(samples, 16000, "en", "model-a")
	if a != b {
		t.Fatalf("cacheKey not deterministic: %q != %q", a, b)
	}
	c := cacheKey(samples, 16000, "en", "model-b")
	if a == c {
		t.Fatal("cacheKey should differ across model IDs")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := New(Config{BinaryPath: "/bin/true", ModelPath: "model.bin", CacheDir: dir})
	key := "deadbeef"
	want := &Result{Text: "hi", Confidence: 1, ModelID: "model.bin"}
	a.writeCache(key, want)

	got, ok := a.readCache(key)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Text != want.Text {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
