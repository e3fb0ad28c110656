// Package audiopipeline drives the continuous capture state machine: it
// watches a steady stream of audio frames for a wake word or an explicit
// hotkey trigger, snapshots a pre-roll ring of audio at the moment of
// trigger, then records until the voice activity detector declares the
// utterance over.
package audiopipeline

import (
	"fmt"
	"time"

	"github.com/quietsignal/voxd/internal/ring"
	"github.com/quietsignal/voxd/internal/vad"
	"github.com/quietsignal/voxd/internal/wake"
)

// EventKind tags the variants of Event.
type EventKind string

const (
	EventWakeTriggered  EventKind = "wake_triggered"
	EventUtteranceReady EventKind = "utterance_ready"
	EventError          EventKind = "error"
)

// Event is the tagged union emitted by the pipeline for the orchestrator
// to consume.
type Event struct {
	Kind       EventKind
	Samples    []float32 // pre-roll+trigger frame for WakeTriggered; post-trigger capture for UtteranceReady
	SampleRate int
	Truncated  bool // UtteranceReady only: true if MaxUtteranceSeconds was hit
	Err        error
}

// Config controls capture behavior.
type Config struct {
	SampleRate          int
	PreRollSeconds      float64
	MaxUtteranceSeconds float64
	WakeSensitivity     float64
	VAD                 vad.Config
}

// DefaultConfig returns reasonable capture defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:          16000,
		PreRollSeconds:      0.3,
		MaxUtteranceSeconds: 30,
		WakeSensitivity:     0.5,
		VAD:                 vad.DefaultConfig(),
	}
}

type state int

const (
	stateMonitor state = iota
	stateCapture
)

// Pipeline is the capture state machine. One instance serves one
// continuous audio input; it is not safe for concurrent calls to
// ProcessFrame/TriggerHotkey from multiple goroutines, matching the
// single capture-callback-goroutine ownership documented in the
// concurrency model.
type Pipeline struct {
	cfg   Config
	ring  *ring.Buffer
	wake  wake.Detector
	vad   *vad.Detector
	state state

	hotkey chan struct{}
	events chan Event

	captureBuf   []float32
	captureStart time.Time
}

// New constructs a Pipeline with the given detector (pass wake.NewNoop for
// hotkey-only operation).
func New(cfg Config, detector wake.Detector) *Pipeline {
	if cfg.SampleRate == 0 {
		cfg = DefaultConfig()
	}
	return &Pipeline{
		cfg:    cfg,
		ring:   ring.New(cfg.PreRollSeconds, cfg.SampleRate),
		wake:   detector,
		vad:    vad.New(cfg.VAD),
		state:  stateMonitor,
		hotkey: make(chan struct{}, 1),
		events: make(chan Event, 16),
	}
}

// Events returns the channel the orchestrator reads wake/utterance/error
// events from.
func (p *Pipeline) Events() <-chan Event {
	return p.events
}

// TriggerHotkey requests an immediate transition into Capture on the next
// ProcessFrame call, pre-empting wake-word detection for that frame (the
// hotkey always wins a same-tick tie).
func (p *Pipeline) TriggerHotkey() {
	select {
	case p.hotkey <- struct{}{}:
	default:
	}
}

// EmitError reports a fatal capture-side error (e.g. device-open failure)
// to the orchestrator without altering the state machine.
func (p *Pipeline) EmitError(err error) {
	p.emit(Event{Kind: EventError, Err: err})
}

// ProcessFrame feeds one frame of audio (at cfg.SampleRate) through the
// state machine.
func (p *Pipeline) ProcessFrame(frame []float32) {
	now := time.Now()

	switch p.state {
	case stateMonitor:
		p.processMonitor(frame, now)
	case stateCapture:
		p.processCapture(frame, now)
	}
}

func (p *Pipeline) processMonitor(frame []float32, now time.Time) {
	p.ring.Write(frame)

	triggered := p.consumeHotkey()
	if !triggered {
		var err error
		triggered, err = p.wake.ProcessFrame(frame)
		if err != nil {
			p.emit(Event{Kind: EventError, Err: fmt.Errorf("wake detector: %w", err)})
			return
		}
	}
	if !triggered {
		return
	}

	preRoll := p.ring.ReadAll()
	trigger := make([]float32, 0, len(preRoll)+len(frame))
	trigger = append(trigger, preRoll...)
	trigger = append(trigger, frame...)

	p.state = stateCapture
	p.captureBuf = p.captureBuf[:0]
	p.captureStart = now
	p.vad.Reset()

	p.emit(Event{Kind: EventWakeTriggered, Samples: trigger, SampleRate: p.cfg.SampleRate})
}

func (p *Pipeline) consumeHotkey() bool {
	select {
	case <-p.hotkey:
		return true
	default:
		return false
	}
}

func (p *Pipeline) processCapture(frame []float32, now time.Time) {
	p.captureBuf = append(p.captureBuf, frame...)
	p.vad.IsSpeech(frame, now)

	elapsed := now.Sub(p.captureStart).Seconds()
	if elapsed >= p.cfg.MaxUtteranceSeconds {
		p.finishCapture(true)
		return
	}

	if p.vad.HasUtteranceEnded(now) {
		p.finishCapture(false)
	}
}

func (p *Pipeline) finishCapture(truncated bool) {
	samples := p.captureBuf
	p.captureBuf = nil
	p.state = stateMonitor
	p.ring.Clear()
	p.emit(Event{
		Kind:       EventUtteranceReady,
		Samples:    samples,
		SampleRate: p.cfg.SampleRate,
		Truncated:  truncated,
	})
}

func (p *Pipeline) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		// A full event channel means the orchestrator has fallen behind;
		// dropping here rather than blocking preserves real-time capture.
	}
}
