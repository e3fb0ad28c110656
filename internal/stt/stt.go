// Package stt turns a captured utterance into text by shelling out to an
// external speech recogniser binary, with a content-addressed cache so a
// repeated utterance never pays for a second subprocess run.
package stt

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/quietsignal/voxd/internal/audioio"
	"github.com/quietsignal/voxd/internal/metrics"
)

// ErrSTT wraps every failure this package returns, so the error policy can
// classify it without string-sniffing the underlying cause.
var ErrSTT = errors.New("stt: recognition error")

const runTimeout = 30 * time.Second

// Result is the outcome of one transcription, cacheable minus the samples
// that produced it.
type Result struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
	DurationMs float64 `json:"duration_ms"`
	ModelID    string  `json:"model_id"`
	CacheHit   bool    `json:"-"`
}

// Config configures the subprocess recogniser.
type Config struct {
	BinaryPath string   // path to the recogniser executable
	ModelPath  string   // path to the model file, passed to the binary
	ExtraArgs  []string // additional flags appended after -m/-f
	Language   string
	ModelID    string   // identity used in cache keys; defaults to ModelPath
	CacheDir   string   // directory for content-addressed JSON cache files
}

// Adapter runs the configured external recogniser against canonical audio
// and caches results by content hash.
type Adapter struct {
	cfg Config
}

// New creates an Adapter. If cfg.CacheDir is empty, caching is disabled.
func New(cfg Config) *Adapter {
	if cfg.ModelID == "" {
		cfg.ModelID = cfg.ModelPath
	}
	return &Adapter{cfg: cfg}
}

// Transcribe writes samples to a canonical WAV scratch file, invokes the
// external recogniser with a 30s hard timeout, and parses its output. An
// empty samples slice (the caller already trimmed it to silence via VAD)
// returns an empty, non-error result with confidence 0.
func (a *Adapter) Transcribe(ctx context.Context, samples []float32, sampleRate int) (*Result, error) {
	start := time.Now()
	result, err := a.transcribe(ctx, samples, sampleRate)
	metrics.StageDuration.WithLabelValues("stt").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Errors.WithLabelValues("stt", "recognizer").Inc()
	}
	return result, err
}

func (a *Adapter) transcribe(ctx context.Context, samples []float32, sampleRate int) (*Result, error) {
	if len(samples) == 0 {
		return &Result{Confidence: 0}, nil
	}

	key := cacheKey(samples, sampleRate, a.cfg.Language, a.cfg.ModelID)
	if a.cfg.CacheDir != "" {
		if cached, ok := a.readCache(key); ok {
			cached.CacheHit = true
			return cached, nil
		}
	}

	start := time.Now()
	result, err := a.run(ctx, samples, sampleRate)
	if err != nil {
		return nil, err
	}
	result.DurationMs = float64(time.Since(start).Milliseconds())
	result.ModelID = a.cfg.ModelID

	if a.cfg.CacheDir != "" {
		a.writeCache(key, result)
	}
	return result, nil
}

func (a *Adapter) run(ctx context.Context, samples []float32, sampleRate int) (*Result, error) {
	scratch, err := os.CreateTemp("", "voxd-stt-*.wav")
	if err != nil {
		return nil, fmt.Errorf("%w: create scratch file: %v", ErrSTT, err)
	}
	path := scratch.Name()
	scratch.Close()
	defer os.Remove(path)

	if err := audioio.WriteWAVFile(path, samples, sampleRate); err != nil {
		return nil, fmt.Errorf("%w: write scratch wav: %v", ErrSTT, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	args := []string{"-m", a.cfg.ModelPath, "-f", path}
	args = append(args, a.cfg.ExtraArgs...)
	cmd := exec.CommandContext(runCtx, a.cfg.BinaryPath, args...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: recognizer timed out after %s", ErrSTT, runTimeout)
		}
		return nil, fmt.Errorf("%w: recognizer exited: %v: %s", ErrSTT, err, stdout.String())
	}

	text := parseOutput(stdout.String())
	confidence := 1.0
	if text == "" {
		confidence = 0
	}
	return &Result{Text: text, Language: a.cfg.Language, Confidence: confidence}, nil
}

var (
	timestampLine = regexp.MustCompile(`^\s*\[[^\]]*\]\s*`)
	logPrefixLine = regexp.MustCompile(`^\s*(whisper_|main:|system_info:|ggml_)`)
)

// parseOutput strips metadata lines the recognizer writes alongside the
// transcript: blank lines, bracketed timestamps, and known log prefixes.
func parseOutput(raw string) string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if logPrefixLine.MatchString(line) {
			continue
		}
		line = timestampLine.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, " "))
}

func cacheKey(samples []float32, sampleRate int, language, modelID string) string {
	h := sha256.New()
	buf := make([]byte, 4)
	for _, s := range samples {
		bits := int32(s * 32767)
		buf[0] = byte(bits)
		buf[1] = byte(bits >> 8)
		buf[2] = byte(bits >> 16)
		buf[3] = byte(bits >> 24)
		h.Write(buf)
	}
	fmt.Fprintf(h, "|%d|%s|%s", sampleRate, language, modelID)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *Adapter) cachePath(key string) string {
	return filepath.Join(a.cfg.CacheDir, key+".json")
}

func (a *Adapter) readCache(key string) (*Result, bool) {
	data, err := os.ReadFile(a.cachePath(key))
	if err != nil {
		return nil, false
	}
	var result Result
	if json.Unmarshal(data, &result) != nil {
		return nil, false
	}
	return &result, true
}

func (a *Adapter) writeCache(key string, result *Result) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	os.MkdirAll(a.cfg.CacheDir, 0755)
	_ = os.WriteFile(a.cachePath(key), data, 0644)
}
