// Package lifecycle wires every component into one running assistant: it
// owns construction, the status state machine, graceful start/stop, and
// dispatches the control protocol's commands against whichever components
// they touch. Nothing outside this package constructs more than one
// component at a time.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quietsignal/voxd/internal/audiopipeline"
	"github.com/quietsignal/voxd/internal/config"
	"github.com/quietsignal/voxd/internal/conversation"
	"github.com/quietsignal/voxd/internal/errs"
	"github.com/quietsignal/voxd/internal/inlineai"
	"github.com/quietsignal/voxd/internal/llm"
	"github.com/quietsignal/voxd/internal/metrics"
	"github.com/quietsignal/voxd/internal/pipeline"
	"github.com/quietsignal/voxd/internal/prompts"
	"github.com/quietsignal/voxd/internal/protocol"
	"github.com/quietsignal/voxd/internal/stt"
	"github.com/quietsignal/voxd/internal/tools"
	"github.com/quietsignal/voxd/internal/trace"
	"github.com/quietsignal/voxd/internal/tts"
	"github.com/quietsignal/voxd/internal/vad"
	"github.com/quietsignal/voxd/internal/wake"
)

// Status is the display-only lifecycle state, totally ordered for the
// assistant's normal run: Initializing -> Idle -> Listening -> Processing
// -> Speaking -> Idle. Error and Stopped are absorbing until explicit
// recovery (a fresh Initialize) or process restart.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusIdle         Status = "idle"
	StatusListening    Status = "listening"
	StatusProcessing   Status = "processing"
	StatusSpeaking     Status = "speaking"
	StatusError        Status = "error"
	StatusStopped      Status = "stopped"
)

// StatusSpeaking is never entered directly: TTS playback happens inside
// the pipeline run itself (the orchestrator owns C9/C10 synchronously),
// so the observable status stays Processing for the duration of a full
// request including its spoken reply. It is kept as a named state for
// callers driving playback through ProcessAudio with their own TTS
// adapter outside the pipeline's control.

// StatusCallback is invoked on every status transition.
type StatusCallback func(Status)

// Assistant owns every long-lived component and the status machine. It
// implements protocol.Handler, so it can be passed directly to
// protocol.NewServer.
type Assistant struct {
	cfg *config.Config

	mu             sync.Mutex
	status         Status
	statusCallback StatusCallback
	emitterSink    func(protocol.OutMessage)

	sessionID string

	sttAdapter   *stt.Adapter
	llmProvider  llm.Provider
	toolsBroker  *tools.Broker
	ttsAdapter   *tts.Adapter
	convStore    *conversation.Store
	metricsColl  *metrics.Collector
	errorPolicy  errs.Policy
	traceStore   *trace.Store
	tracer       *trace.Tracer
	inlineSvc    *inlineai.Service
	orchestrator *pipeline.Orchestrator
	audioPipe    *audiopipeline.Pipeline

	capture  *captureDevice
	httpSrv  *http.Server
	eventsWG sync.WaitGroup
	cancel   context.CancelFunc
}

// New creates an Assistant bound to cfg, in StatusInitializing. Call
// Initialize to construct every component before Start.
func New(cfg *config.Config) *Assistant {
	return &Assistant{
		cfg:       cfg,
		status:    StatusInitializing,
		sessionID: fmt.Sprintf("session-%d", time.Now().UnixNano()),
	}
}

// SetEmitter registers the sink asynchronous EVENT/STATUS lines are
// written through (normally a *protocol.Server). Must be called before
// Start for wake/processing events and status broadcasts to be visible.
func (a *Assistant) SetEmitter(emit func(protocol.OutMessage)) {
	a.emitterSink = emit
}

// SetStatusCallback registers a callback invoked on every status
// transition, in addition to any STATUS broadcast already configured via
// SetEmitter.
func (a *Assistant) SetStatusCallback(cb StatusCallback) {
	a.mu.Lock()
	a.statusCallback = cb
	a.mu.Unlock()
}

// Initialize constructs every component from the bound config: STT, LLM
// (with fallback wrapping if configured), tools, TTS, conversation store,
// metrics, error policy, optional trace store, and the pipeline
// orchestrator. Returns false and the construction error if a required
// component cannot be built; the error is not logged here. A tool server
// or trace store that fails to connect is logged and skipped instead.
func (a *Assistant) Initialize(ctx context.Context) (bool, error) {
	a.errorPolicy = errs.NewPolicy()
	a.errorPolicy.SpeakErrors = a.cfg.ErrorHandling.SpeakErrors

	a.sttAdapter = stt.New(stt.Config{
		BinaryPath: a.cfg.STT.BinaryPath,
		ModelPath:  a.cfg.STT.ModelPath,
		ExtraArgs:  a.cfg.STT.ExtraArgs,
		Language:   a.cfg.STT.Language,
		ModelID:    a.cfg.STT.ModelID,
		CacheDir:   a.cfg.STT.CacheDir,
	})

	systemPrompt := prompts.ForSession(a.cfg.LLM.SystemPrompt)

	primary, err := llm.Build(llm.BackendConfig{
		Engine:       a.cfg.LLM.Backend,
		BaseURL:      a.cfg.LLM.URL,
		APIKeyEnv:    a.cfg.LLM.APIKeyEnv,
		Model:        a.cfg.LLM.Model,
		SystemPrompt: systemPrompt,
		MaxTokens:    a.cfg.LLM.MaxTokens,
		PoolSize:     a.cfg.LLM.PoolSize,
	})
	if err != nil {
		a.setStatus(StatusError)
		return false, fmt.Errorf("lifecycle: build llm provider: %w", err)
	}
	a.llmProvider = primary
	if a.cfg.LLM.FallbackBackend != "" {
		fallback, err := llm.Build(llm.BackendConfig{
			Engine:       a.cfg.LLM.FallbackBackend,
			BaseURL:      a.cfg.LLM.URL,
			APIKeyEnv:    a.cfg.LLM.APIKeyEnv,
			Model:        a.cfg.LLM.FallbackModel,
			SystemPrompt: systemPrompt,
			MaxTokens:    a.cfg.LLM.MaxTokens,
			PoolSize:     a.cfg.LLM.PoolSize,
		})
		if err != nil {
			a.setStatus(StatusError)
			return false, fmt.Errorf("lifecycle: build fallback llm provider: %w", err)
		}
		a.llmProvider = llm.NewFallbackProvider(primary, fallback, a.errorPolicy)
	}

	if len(a.cfg.Tools.Servers) > 0 {
		broker := tools.New()
		for _, sc := range a.cfg.Tools.Servers {
			if connErr := broker.Connect(ctx, tools.ServerConfig{
				Name:      sc.Name,
				Transport: sc.Transport,
				Command:   sc.Command,
				Args:      sc.Args,
				Env:       sc.Env,
				Endpoint:  sc.Endpoint,
			}); connErr != nil {
				slog.Warn("lifecycle: tool server connect failed, continuing without it", "server", sc.Name, "error", connErr)
				continue
			}
		}
		a.toolsBroker = broker
	}

	ttsAdapter, err := tts.New(tts.Config{
		SynthURL:   a.cfg.TTS.SynthURL,
		Voice:      a.cfg.TTS.Voice,
		PoolSize:   a.cfg.TTS.PoolSize,
		SampleRate: a.cfg.TTS.SampleRate,
	})
	if err != nil {
		a.setStatus(StatusError)
		return false, fmt.Errorf("lifecycle: init tts: %w", err)
	}
	a.ttsAdapter = ttsAdapter

	a.convStore = conversation.New(conversation.Config{
		SystemPrompt:     systemPrompt,
		MaxTurns:         a.cfg.Conversation.MaxTurns,
		MaxContextTokens: a.cfg.Conversation.MaxContextTokens,
		IdleTimeout:      time.Duration(a.cfg.Conversation.IdleTimeoutSec) * time.Second,
	})

	a.metricsColl = metrics.NewCollector(time.Duration(a.cfg.Performance.LogIntervalSec) * time.Second)

	if a.cfg.Trace.PostgresURL != "" {
		store, err := trace.Open(a.cfg.Trace.PostgresURL)
		if err != nil {
			slog.Warn("lifecycle: trace store unavailable, continuing without tracing", "error", err)
		} else {
			a.traceStore = store
			if err := store.CreateSession(a.sessionID, ""); err != nil {
				slog.Warn("lifecycle: trace session not recorded", "error", err)
			}
			a.tracer = trace.NewTracer(store, a.sessionID)
		}
	}

	a.inlineSvc = inlineai.New(a.llmProvider, a.cfg.InlineAI.Model, a.cfg.InlineAI.Temperature)

	a.orchestrator = pipeline.New(pipeline.Config{
		STT:               a.sttAdapter,
		LLM:               a.llmProvider,
		Tools:             a.toolsBroker,
		TTS:               a.ttsAdapter,
		Conversation:      a.convStore,
		Metrics:           a.metricsColl,
		ErrorPolicy:       a.errorPolicy,
		Tracer:            a.tracer,
		SessionID:         a.sessionID,
		MaxToolIterations: a.cfg.Performance.MaxToolIterations,
	})

	vadCfg := vad.DefaultConfig()
	vadCfg.SampleRate = a.cfg.Audio.SampleRate
	if !a.cfg.Audio.NoiseFloorCalibration {
		vadCfg.CalibrationDuration = 0
	}

	a.audioPipe = audiopipeline.New(audiopipeline.Config{
		SampleRate:          a.cfg.Audio.SampleRate,
		PreRollSeconds:      a.cfg.Audio.PreRollSeconds,
		MaxUtteranceSeconds: a.cfg.Audio.MaxUtteranceSeconds,
		WakeSensitivity:     a.cfg.Audio.WakeSensitivity,
		VAD:                 vadCfg,
	}, wake.NewNoop(0, a.cfg.Audio.SampleRate))

	a.setStatus(StatusIdle)
	return true, nil
}

// Start opens the capture device, begins draining pipeline events, and
// brings up the optional localhost metrics/healthz listener. Wires C4 to
// C9's event handlers, per this component's one load-bearing job.
func (a *Assistant) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	capture, err := newCaptureDevice(a.cfg.Audio.SampleRate, a.audioPipe.ProcessFrame)
	if err != nil {
		cancel()
		a.setStatus(StatusError)
		return fmt.Errorf("lifecycle: open capture device: %w", err)
	}
	a.capture = capture

	a.eventsWG.Add(1)
	go a.drainEvents(runCtx)

	if a.cfg.Metrics.BindAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		a.httpSrv = &http.Server{Addr: a.cfg.Metrics.BindAddr, Handler: mux}
		go func() {
			if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Warn("lifecycle: metrics listener stopped", "error", err)
			}
		}()
	}

	a.setStatus(StatusListening)
	return nil
}

// drainEvents reads wake/utterance/error events off the capture pipeline
// and drives the orchestrator, broadcasting status and EVENT lines.
func (a *Assistant) drainEvents(ctx context.Context) {
	defer a.eventsWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.audioPipe.Events():
			if !ok {
				return
			}
			a.handleAudioEvent(ctx, ev)
		}
	}
}

func (a *Assistant) handleAudioEvent(ctx context.Context, ev audiopipeline.Event) {
	switch ev.Kind {
	case audiopipeline.EventWakeTriggered:
		a.emit(protocol.OutMessage{Type: "EVENT", Event: "wake_word_detected"})
	case audiopipeline.EventError:
		slog.Warn("lifecycle: capture pipeline error", "error", ev.Err)
	case audiopipeline.EventUtteranceReady:
		a.setStatus(StatusProcessing)
		result, err := a.orchestrator.ProcessAudioEvent(ctx, ev)
		if err != nil {
			slog.Warn("lifecycle: pipeline run failed", "error", err)
		}
		a.emit(processingCompleteMessage(result))
		a.setStatus(StatusListening)
	}
}

func processingCompleteMessage(result *pipeline.Result) protocol.OutMessage {
	if result == nil {
		return protocol.OutMessage{Type: "EVENT", Event: "processing_complete", Result: map[string]any{"success": false}}
	}
	transcript := ""
	if result.Transcription != nil {
		transcript = result.Transcription.Text
	}
	return protocol.OutMessage{
		Type:  "EVENT",
		Event: "processing_complete",
		Result: map[string]any{
			"success":        result.Success,
			"transcription":  transcript,
			"response":       result.Response,
			"error":          result.Error,
			"duration_ms":    result.DurationMs,
			"tool_calls_made": result.ToolCallsMade,
		},
	}
}

// Stop halts capture without releasing any other component, so the
// assistant can be restarted with Start without a full Initialize.
func (a *Assistant) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.capture != nil {
		a.capture.Close()
		a.capture = nil
	}
	a.eventsWG.Wait()
	a.setStatus(StatusIdle)
	return nil
}

// Interrupt stops any in-flight TTS playback immediately.
func (a *Assistant) Interrupt() {
	if a.orchestrator != nil {
		a.orchestrator.Interrupt()
	}
}

// ClearConversation resets the conversation store to just its system
// message.
func (a *Assistant) ClearConversation() {
	if a.convStore != nil {
		a.convStore.Clear()
	}
}

// GetStatus returns the current lifecycle status.
func (a *Assistant) GetStatus() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// GetMetrics returns a point-in-time metrics snapshot.
func (a *Assistant) GetMetrics() metrics.SystemStats {
	if a.metricsColl == nil {
		return metrics.SystemStats{}
	}
	return a.metricsColl.Snapshot()
}

// GetConversationInfo reports the current session's conversation stats.
func (a *Assistant) GetConversationInfo() conversation.Info {
	if a.convStore == nil {
		return conversation.Info{}
	}
	return a.convStore.SessionInfo()
}

// ProcessAudio runs the pipeline directly against samples, for
// programmatic triggering outside the capture device (tests, scripted
// playback, an integration harness).
func (a *Assistant) ProcessAudio(ctx context.Context, samples []float32, sampleRate int) (*pipeline.Result, error) {
	a.setStatus(StatusProcessing)
	defer a.setStatus(StatusListening)
	return a.orchestrator.ProcessAudioEvent(ctx, audiopipeline.Event{
		Kind:       audiopipeline.EventUtteranceReady,
		Samples:    samples,
		SampleRate: sampleRate,
	})
}

// Cleanup releases every constructed component in reverse construction
// order: the metrics listener and capture device, then the tracer and
// trace store, metrics, TTS, tools, and finally the LLM provider(s).
func (a *Assistant) Cleanup() error {
	if a.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.httpSrv.Shutdown(ctx)
	}
	_ = a.Stop()

	a.tracer.Close()
	if a.traceStore != nil {
		if err := a.traceStore.Close(); err != nil {
			slog.Warn("lifecycle: closing trace store", "error", err)
		}
	}
	if a.metricsColl != nil {
		a.metricsColl.Close()
	}
	if a.ttsAdapter != nil {
		if err := a.ttsAdapter.Close(); err != nil {
			slog.Warn("lifecycle: closing tts adapter", "error", err)
		}
	}
	if a.toolsBroker != nil {
		if err := a.toolsBroker.Close(); err != nil {
			slog.Warn("lifecycle: closing tools broker", "error", err)
		}
	}
	if a.llmProvider != nil {
		if err := a.llmProvider.Close(); err != nil {
			slog.Warn("lifecycle: closing llm provider", "error", err)
		}
	}

	a.setStatus(StatusStopped)
	return nil
}

func (a *Assistant) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	cb := a.statusCallback
	a.mu.Unlock()

	if cb != nil {
		cb(s)
	}
	a.emit(protocol.OutMessage{Type: "STATUS", Status: string(s)})
}

func (a *Assistant) emit(msg protocol.OutMessage) {
	if a.emitterSink != nil {
		a.emitterSink(msg)
	}
}

// HandleCommand dispatches one decoded control-protocol command, so an
// Assistant can be passed directly to protocol.NewServer.
func (a *Assistant) HandleCommand(ctx context.Context, cmd protocol.Command) protocol.OutMessage {
	switch cmd.Type {
	case "start":
		if err := a.Start(ctx); err != nil {
			return errorResponse(cmd.RequestID, err)
		}
		return protocol.OutMessage{Type: "start_complete", RequestID: cmd.RequestID}
	case "stop":
		if err := a.Stop(); err != nil {
			return errorResponse(cmd.RequestID, err)
		}
		return protocol.OutMessage{Type: "stop_complete", RequestID: cmd.RequestID}
	case "interrupt":
		a.Interrupt()
		return protocol.OutMessage{Type: "interrupt_complete", RequestID: cmd.RequestID}
	case "clear_conversation":
		a.ClearConversation()
		return protocol.OutMessage{Type: "clear_conversation_complete", RequestID: cmd.RequestID}
	case "get_status":
		return protocol.OutMessage{
			Type:      "status",
			RequestID: cmd.RequestID,
			Result: map[string]any{
				"status":       a.GetStatus(),
				"conversation": a.GetConversationInfo(),
			},
		}
	case "get_metrics":
		return protocol.OutMessage{Type: "metrics", RequestID: cmd.RequestID, Result: a.GetMetrics()}
	case "rewrite_text":
		rewritten, err := a.inlineSvc.Rewrite(ctx, cmd.Text, cmd.Tone)
		if err != nil {
			return errorResponse(cmd.RequestID, err)
		}
		return protocol.OutMessage{Type: "rewrite_complete", RequestID: cmd.RequestID, Original: cmd.Text, Rewritten: rewritten, Tone: cmd.Tone}
	case "summarize_text":
		maxSentences := cmd.MaxSentences
		if maxSentences <= 0 {
			maxSentences = 3
		}
		summary, err := a.inlineSvc.Summarize(ctx, cmd.Text, maxSentences)
		if err != nil {
			return errorResponse(cmd.RequestID, err)
		}
		return protocol.OutMessage{Type: "summarize_complete", RequestID: cmd.RequestID, Original: cmd.Text, Summary: summary}
	case "proofread_text":
		result, err := a.inlineSvc.Proofread(ctx, cmd.Text, cmd.ShowChanges)
		if err != nil {
			return errorResponse(cmd.RequestID, err)
		}
		return protocol.OutMessage{Type: "proofread_complete", RequestID: cmd.RequestID, Original: cmd.Text, Corrected: result.Corrected, Changes: result.Changes}
	case "format_text":
		formatted, err := a.inlineSvc.Format(ctx, cmd.Text, inlineai.FormatKind(cmd.Format), cmd.NumPoints)
		if err != nil {
			return errorResponse(cmd.RequestID, err)
		}
		return protocol.OutMessage{Type: "format_complete", RequestID: cmd.RequestID, Original: cmd.Text, Formatted: formatted}
	case "compose_text":
		composed, err := a.inlineSvc.Compose(ctx, cmd.Prompt, cmd.Context)
		if err != nil {
			return errorResponse(cmd.RequestID, err)
		}
		return protocol.OutMessage{Type: "compose_complete", RequestID: cmd.RequestID, Prompt: cmd.Prompt, Composed: composed}
	default:
		return errorResponse(cmd.RequestID, fmt.Errorf("unknown command %q", cmd.Type))
	}
}

func errorResponse(requestID string, err error) protocol.OutMessage {
	return protocol.OutMessage{Type: "inline_ai_error", RequestID: requestID, Error: err.Error()}
}
