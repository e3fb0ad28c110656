// Package pipeline drives the STT -> LLM (tool loop) -> TTS request chain
// for a single utterance, staging each step through the metrics collector
// and consulting the error policy on failure. It owns the conversation
// store for the duration of a request and never runs two requests
// concurrently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quietsignal/voxd/internal/audiopipeline"
	"github.com/quietsignal/voxd/internal/conversation"
	"github.com/quietsignal/voxd/internal/errs"
	"github.com/quietsignal/voxd/internal/llm"
	"github.com/quietsignal/voxd/internal/metrics"
	"github.com/quietsignal/voxd/internal/stt"
	"github.com/quietsignal/voxd/internal/tools"
	"github.com/quietsignal/voxd/internal/trace"
	"github.com/quietsignal/voxd/internal/tts"
)

const defaultMaxToolIterations = 5

// Config wires every stage the orchestrator drives.
type Config struct {
	STT               *stt.Adapter
	LLM               llm.Provider
	Tools             *tools.Broker // nil means no tool execution available
	TTS               *tts.Adapter
	Conversation      *conversation.Store
	Metrics           *metrics.Collector
	ErrorPolicy       errs.Policy
	Tracer            *trace.Tracer // nil disables tracing
	SessionID         string
	MaxToolIterations int
}

// Result mirrors the spec's PipelineResult: the outcome of one full
// request plus per-stage timing.
type Result struct {
	Success        bool
	Transcription  *stt.Result
	Response       string
	Error          string
	ToolCallsMade  int
	DurationMs     float64
	PerStageMs     map[string]float64
}

// Orchestrator processes utterance-ready events end to end.
type Orchestrator struct {
	cfg Config
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = defaultMaxToolIterations
	}
	return &Orchestrator{cfg: cfg}
}

// ProcessAudioEvent runs the full pipeline for an UtteranceReady event.
// Other event kinds are ignored; callers should route WakeTriggered
// straight to UI/status observers instead.
func (o *Orchestrator) ProcessAudioEvent(ctx context.Context, ev audiopipeline.Event) (*Result, error) {
	if ev.Kind != audiopipeline.EventUtteranceReady {
		return nil, nil
	}

	start := time.Now()
	perStage := map[string]float64{}

	runID := o.cfg.Tracer.StartRun()

	result, err := o.run(ctx, ev, perStage, runID)
	elapsed := time.Since(start)

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordRequest(elapsed, err == nil && result != nil && result.Success)
	}

	if result != nil {
		result.DurationMs = float64(elapsed.Milliseconds())
		result.PerStageMs = perStage
	}

	if runID != "" {
		status := "ok"
		transcript, response := "", ""
		if result != nil {
			transcript = transcriptOf(result)
			response = result.Response
			if !result.Success {
				status = "error"
			}
		}
		o.cfg.Tracer.EndRun(runID, elapsed.Seconds()*1000, transcript, response, status)
	}

	return result, err
}

func transcriptOf(r *Result) string {
	if r.Transcription == nil {
		return ""
	}
	return r.Transcription.Text
}

func (o *Orchestrator) run(ctx context.Context, ev audiopipeline.Event, perStage map[string]float64, runID string) (*Result, error) {
	// STT stage.
	sttStart := time.Now()
	sttTimer := o.startTimer("stt")
	transcription, err := o.cfg.STT.Transcribe(ctx, ev.Samples, ev.SampleRate)
	sttTimer(err)
	perStage["stt"] = float64(time.Since(sttStart).Milliseconds())
	o.traceSpan(runID, "stt", sttStart, fmt.Sprintf("samples=%d", len(ev.Samples)), spanOutput(transcription), err)
	if err != nil {
		se := errs.New(errs.KindSTT, "stt", err)
		if o.cfg.ErrorPolicy.Classify(se) == errs.ActionRetry {
			retryTimer := o.startTimer("stt")
			transcription, err = o.cfg.STT.Transcribe(ctx, ev.Samples, ev.SampleRate)
			retryTimer(err)
		}
		if err != nil {
			o.speakErrorPhrase(ctx, errs.KindSTT)
			return &Result{Success: false, Error: se.Error()}, nil
		}
	}
	if transcription.Text == "" {
		return &Result{Success: false, Transcription: transcription, Error: "No speech detected"}, nil
	}

	// LLM stage with tool loop. A retryable failure has already been
	// retried against the configured fallback provider, if any, one level
	// down inside o.cfg.LLM itself; an error surfacing here is terminal.
	o.cfg.Conversation.AddUser(transcription.Text)
	response, toolCalls, err := o.runLLMWithTools(ctx, perStage, runID)
	if err != nil {
		se := errs.New(errs.KindLLM, "llm", err)
		o.speakErrorPhrase(ctx, errs.KindLLM)
		return &Result{Success: false, Transcription: transcription, Error: se.Error()}, nil
	}

	// TTS stage: failures are classified skip_tts and never fail the run.
	ttsStart := time.Now()
	ttsTimer := o.startTimer("tts")
	ttsErr := o.cfg.TTS.Speak(ctx, response, true)
	ttsTimer(ttsErr)
	perStage["tts"] = float64(time.Since(ttsStart).Milliseconds())
	o.traceSpan(runID, "tts", ttsStart, response, "", ttsErr)
	if ttsErr != nil {
		slog.Warn("tts stage failed, continuing without speech", "error", ttsErr)
	}

	return &Result{
		Success:       true,
		Transcription: transcription,
		Response:      response,
		ToolCallsMade: toolCalls,
	}, nil
}

// startTimer opens a scoped metrics timer for stage, if a Collector is
// configured, returning a Stop function that is a no-op otherwise so call
// sites never need a nil check.
func (o *Orchestrator) startTimer(stage string) func(error) time.Duration {
	if o.cfg.Metrics == nil {
		return func(error) time.Duration { return 0 }
	}
	t := o.cfg.Metrics.Timer(stage)
	return t.Stop
}

// runLLMWithTools drives the tool-calling loop: query the LLM, execute any
// requested tools, append results, and re-query until the model stops
// calling tools or the iteration cap is hit.
func (o *Orchestrator) runLLMWithTools(ctx context.Context, perStage map[string]float64, runID string) (string, int, error) {
	var tools []llm.ToolDefinition
	if o.cfg.Tools != nil {
		for _, def := range o.cfg.Tools.ListTools() {
			tools = append(tools, llm.ToolDefinition{Name: def.Name, Description: def.Description, Parameters: def.Parameters})
		}
	}

	toolCallsMade := 0

	for iteration := 0; iteration < o.cfg.MaxToolIterations; iteration++ {
		llmStart := time.Now()
		llmTimer := o.startTimer("llm")
		messages := o.cfg.Conversation.Messages()
		result, err := o.cfg.LLM.Complete(ctx, messages, tools, llm.Options{})
		llmTimer(err)
		perStage["llm"] = float64(time.Since(llmStart).Milliseconds())
		if err != nil {
			return "", toolCallsMade, err
		}

		if len(result.ToolCalls) == 0 {
			o.cfg.Conversation.AddAssistant(result.Text)
			return result.Text, toolCallsMade, nil
		}

		o.cfg.Conversation.AddAssistantToolCalls(result.Text, llm.ToRecords(result.ToolCalls))

		for _, call := range result.ToolCalls {
			toolCallsMade++
			toolStart := time.Now()
			toolTimer := o.startTimer("tool_" + call.Name)
			content := o.callTool(ctx, call)
			toolTimer(nil)
			perStage["tool_"+call.Name] = float64(time.Since(toolStart).Milliseconds())
			o.traceSpan(runID, "tool_"+call.Name, toolStart, fmt.Sprintf("%v", call.Arguments), content, nil)
			o.cfg.Conversation.AddTool(call.ID, call.Name, content)
		}
	}

	slog.Warn("tool loop hit iteration cap, returning last result", "max_iterations", o.cfg.MaxToolIterations)
	llmStart := time.Now()
	llmTimer := o.startTimer("llm")
	messages := o.cfg.Conversation.Messages()
	result, err := o.cfg.LLM.Complete(ctx, messages, nil, llm.Options{})
	llmTimer(err)
	perStage["llm"] = float64(time.Since(llmStart).Milliseconds())
	if err != nil {
		return "", toolCallsMade, err
	}
	o.cfg.Conversation.AddAssistant(result.Text)
	return result.Text, toolCallsMade, nil
}

// speakErrorPhrase speaks the configured phrase for kind, if the error
// policy has speaking enabled and a TTS adapter is wired. Best-effort: a
// playback failure here is logged and swallowed, never compounding the
// original stage failure.
func (o *Orchestrator) speakErrorPhrase(ctx context.Context, kind errs.Kind) {
	phrase := o.cfg.ErrorPolicy.Phrase(kind)
	if phrase == "" || o.cfg.TTS == nil {
		return
	}
	if err := o.cfg.TTS.Speak(ctx, phrase, true); err != nil {
		slog.Warn("failed to speak error phrase", "kind", kind, "error", err)
	}
}

func (o *Orchestrator) callTool(ctx context.Context, call llm.ToolCall) string {
	if o.cfg.Tools == nil {
		return "Error: Tool execution not available"
	}
	content, err := o.cfg.Tools.CallTool(ctx, call.Name, call.Arguments)
	if err != nil {
		se := errs.New(errs.KindTool, "tool_"+call.Name, err)
		_ = o.cfg.ErrorPolicy.Classify(se) // tool failures are always "skip": substitute an error message
		return fmt.Sprintf("Error: %v", err)
	}
	return content
}

// Interrupt stops an in-flight TTS utterance immediately. It does not
// cancel an in-flight LLM/tool step; concurrent pipeline entry is not
// supported, so that step simply completes and its result is discarded by
// the caller if a new event has already been admitted.
func (o *Orchestrator) Interrupt() {
	if o.cfg.TTS != nil {
		o.cfg.TTS.Stop()
	}
}

func (o *Orchestrator) traceSpan(runID, name string, start time.Time, input, output string, err error) {
	if runID == "" {
		return
	}
	status, errMsg := "ok", ""
	if err != nil {
		status, errMsg = "error", err.Error()
	}
	o.cfg.Tracer.RecordSpan(runID, name, start, float64(time.Since(start).Milliseconds()), input, output, status, errMsg)
}

func spanOutput(r *stt.Result) string {
	if r == nil {
		return ""
	}
	return r.Text
}

// ErrNoSpeech is not returned by this package. The no-speech short-circuit
// reports itself through Result.Error as the plain string
// "No speech detected", which is not this error's text.
var ErrNoSpeech = errors.New("pipeline: no speech detected")
