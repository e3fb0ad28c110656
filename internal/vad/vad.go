// Package vad implements frame-level voice activity detection: a per-frame
// speech/silence classification plus a running silence timer used by the
// capture state machine to decide when an utterance has ended.
package vad

import (
	"math"
	"time"
)

// Config controls voice-activity detection behavior.
type Config struct {
	SpeechThresholdDB   float64
	SilenceTimeout      time.Duration
	MinSpeechDuration   time.Duration
	SampleRate          int
	CalibrationDuration time.Duration // noise floor calibration window (0 disables it)
	AdaptiveMarginDB    float64       // dB above measured noise floor for the speech threshold
}

// DefaultConfig returns the static-threshold defaults.
func DefaultConfig() Config {
	return Config{
		SpeechThresholdDB:   20 * math.Log10(0.02), // RMS 0.02 on normalised samples, about -34 dB
		SilenceTimeout:      1000 * time.Millisecond,
		MinSpeechDuration:   500 * time.Millisecond,
		SampleRate:          16000,
		CalibrationDuration: 500 * time.Millisecond,
		AdaptiveMarginDB:    10,
	}
}

// Detector is an energy-based VAD with optional adaptive threshold
// calibration during the first CalibrationDuration of audio it observes.
// It is not safe for concurrent use; the capture loop owns one instance
// per session.
type Detector struct {
	cfg Config

	threshold float64

	calibrating      bool
	calibrationStart time.Time
	readings         []float64

	speaking       bool
	speechStart    time.Time
	lastSpeechTime time.Time
}

// New creates a Detector with the given config.
func New(cfg Config) *Detector {
	return &Detector{
		cfg:         cfg,
		threshold:   cfg.SpeechThresholdDB,
		calibrating: cfg.CalibrationDuration > 0,
	}
}

// IsSpeech classifies one frame as speech or silence, updating the
// adaptive noise-floor calibration and the internal speech-run timers as a
// side effect. now is passed in so tests can drive the clock deterministically.
func (d *Detector) IsSpeech(frame []float32, now time.Time) bool {
	energyDB := EnergyDB(frame)

	if d.calibrating {
		d.calibrate(energyDB, now)
	}

	speech := energyDB >= d.threshold
	if speech {
		if !d.speaking {
			d.speaking = true
			d.speechStart = now
		}
		d.lastSpeechTime = now
	}
	return speech
}

// HasUtteranceEnded reports whether a continuous run of silence at least
// SilenceTimeout long has elapsed since speech was last observed, and the
// speech run before it met MinSpeechDuration. Once the silence timeout has
// elapsed the internal speaking state is reset, whether the run is accepted
// or rejected as shorter than MinSpeechDuration.
func (d *Detector) HasUtteranceEnded(now time.Time) bool {
	if !d.speaking {
		return false
	}
	if now.Sub(d.lastSpeechTime) < d.cfg.SilenceTimeout {
		return false
	}
	speechDur := d.lastSpeechTime.Sub(d.speechStart)
	d.speaking = false
	return speechDur >= d.cfg.MinSpeechDuration
}

// Reset clears speech-run state without touching calibration.
func (d *Detector) Reset() {
	d.speaking = false
	d.speechStart = time.Time{}
	d.lastSpeechTime = time.Time{}
}

// Threshold returns the currently active speech threshold in dB, which may
// have shifted from cfg.SpeechThresholdDB after calibration completes.
func (d *Detector) Threshold() float64 {
	return d.threshold
}

func (d *Detector) calibrate(energyDB float64, now time.Time) {
	if d.calibrationStart.IsZero() {
		d.calibrationStart = now
	}
	d.readings = append(d.readings, energyDB)

	if now.Sub(d.calibrationStart) < d.cfg.CalibrationDuration {
		return
	}

	var sum float64
	for _, e := range d.readings {
		sum += e
	}
	noiseFloor := sum / float64(len(d.readings))

	adaptive := noiseFloor + d.cfg.AdaptiveMarginDB
	if adaptive > d.cfg.SpeechThresholdDB {
		d.threshold = adaptive
	}

	d.calibrating = false
	d.readings = nil
}

// EnergyDB computes the RMS energy of a frame in decibels, floored at -100dB
// for effectively-silent frames.
func EnergyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
