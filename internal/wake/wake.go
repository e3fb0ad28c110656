// Package wake defines the wake-word detector facade the capture pipeline
// drives frame by frame, plus a noop fallback for when no keyword model is
// configured (hotkey-only operation).
package wake

// Detector is implemented by any frame-aligned keyword spotter. Frames
// must be exactly RequiredFrameSamples long at RequiredSampleRate; the
// capture loop is responsible for buffering/resampling to meet this.
type Detector interface {
	// ProcessFrame reports whether the wake word was detected in frame.
	ProcessFrame(frame []float32) (bool, error)

	// UpdateSensitivity adjusts detection sensitivity in [0, 1], where
	// higher values trigger more readily (and more falsely).
	UpdateSensitivity(sensitivity float64) error

	// RequiredFrameSamples is the exact frame length this detector accepts.
	RequiredFrameSamples() int

	// RequiredSampleRate is the sample rate frames must already be at.
	RequiredSampleRate() int

	Close() error
}

// Noop never fires. It is used when no wake-word model is configured and
// the assistant is driven purely by the hotkey command.
type Noop struct {
	frameSamples int
	sampleRate   int
}

// NewNoop creates a Detector that never reports a detection.
func NewNoop(frameSamples, sampleRate int) *Noop {
	if frameSamples <= 0 {
		frameSamples = 1280 // 80ms @ 16kHz, an arbitrary but valid frame size
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Noop{frameSamples: frameSamples, sampleRate: sampleRate}
}

func (n *Noop) ProcessFrame(frame []float32) (bool, error) { return false, nil }
func (n *Noop) UpdateSensitivity(sensitivity float64) error { return nil }
func (n *Noop) RequiredFrameSamples() int                   { return n.frameSamples }
func (n *Noop) RequiredSampleRate() int                     { return n.sampleRate }
func (n *Noop) Close() error                                 { return nil }
