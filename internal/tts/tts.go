// Package tts synthesizes text to speech over a Piper-compatible HTTP
// endpoint and plays the resulting audio through the host's output device.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/quietsignal/voxd/internal/audioio"
	"github.com/quietsignal/voxd/internal/httpx"
	"github.com/quietsignal/voxd/internal/metrics"
)

const (
	minRateWPM = 90
	maxRateWPM = 400
	defaultRateWPM = 175
)

// Config configures the HTTP synthesis endpoint and default voice.
type Config struct {
	SynthURL   string
	Voice      string
	PoolSize   int
	SampleRate int
}

// Adapter synthesizes and plays speech. One Adapter owns one playback
// device; Speak serializes against itself, stopping any in-flight
// utterance before starting a new one.
type Adapter struct {
	client     *http.Client
	synthURL   string
	sampleRate int

	mu        sync.Mutex
	voice     string
	rateWPM   int
	volume    float64
	speaking  bool
	doneCh    chan struct{}

	playbackMu sync.Mutex
	pending    []byte

	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// New creates an Adapter and starts its output device. Call Close to
// release the device when the adapter is no longer needed.
func New(cfg Config) (*Adapter, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audioio.SampleRate
	}

	a := &Adapter{
		client:     httpx.NewPooledClient(cfg.PoolSize, 30*time.Second),
		synthURL:   cfg.SynthURL,
		sampleRate: cfg.SampleRate,
		voice:      cfg.Voice,
		rateWPM:    defaultRateWPM,
		volume:     1.0,
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("tts: init audio context: %w", err)
	}
	a.ctx = mctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: a.onPlayback,
	})
	if err != nil {
		mctx.Uninit()
		return nil, fmt.Errorf("tts: init playback device: %w", err)
	}
	a.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return nil, fmt.Errorf("tts: start playback device: %w", err)
	}
	return a, nil
}

// onPlayback is the malgo data callback: it drains queued PCM into the
// output buffer, applying the current volume, and pads the remainder
// with silence.
func (a *Adapter) onPlayback(pOutput, pInput []byte, frameCount uint32) {
	a.playbackMu.Lock()
	defer a.playbackMu.Unlock()

	n := copy(pOutput, a.pending)
	a.pending = a.pending[n:]

	a.mu.Lock()
	vol := a.volume
	a.mu.Unlock()
	if vol != 1.0 {
		scaleInPlace(pOutput[:n], vol)
	}

	for i := n; i < len(pOutput); i++ {
		pOutput[i] = 0
	}

	if len(a.pending) == 0 && n > 0 {
		a.signalDone()
	}
}

func scaleInPlace(pcm []byte, volume float64) {
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int16(pcm[i]) | int16(pcm[i+1])<<8
		scaled := int16(float64(v) * volume)
		pcm[i] = byte(scaled)
		pcm[i+1] = byte(scaled >> 8)
	}
}

func (a *Adapter) signalDone() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.speaking {
		a.speaking = false
		if a.doneCh != nil {
			close(a.doneCh)
			a.doneCh = nil
		}
	}
}

// Speak synthesizes text and enqueues it for playback, stopping any
// currently speaking utterance first. If wait is true, Speak blocks until
// playback completes.
func (a *Adapter) Speak(ctx context.Context, text string, wait bool) error {
	a.Stop()

	start := time.Now()
	samples, err := a.synthesize(ctx, text)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", "synthesis").Inc()
		return err
	}
	metrics.StageDuration.WithLabelValues("tts").Observe(time.Since(start).Seconds())

	done := make(chan struct{})
	a.mu.Lock()
	a.speaking = true
	a.doneCh = done
	a.mu.Unlock()

	a.playbackMu.Lock()
	a.pending = audioio.ToPCM16Bytes(samples)
	a.playbackMu.Unlock()

	if len(samples) == 0 {
		a.signalDone()
	}

	if wait {
		select {
		case <-done:
		case <-ctx.Done():
			a.Stop()
			return ctx.Err()
		}
	}
	return nil
}

func (a *Adapter) synthesize(ctx context.Context, text string) ([]float32, error) {
	a.mu.Lock()
	voice := a.voice
	rate := a.rateWPM
	a.mu.Unlock()

	reqBody, err := json.Marshal(synthRequest{Text: text, Voice: voice, RateWPM: rate})
	if err != nil {
		return nil, fmt.Errorf("tts: marshal synth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.synthURL+"/synthesize", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("tts: create synth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", "http").Inc()
		return nil, fmt.Errorf("tts: synth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.Errors.WithLabelValues("tts", "status").Inc()
		return nil, fmt.Errorf("tts: synth status %d: %s", resp.StatusCode, body)
	}

	wavData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts: read synth response: %w", err)
	}

	samples, _, err := audioio.DecodeWAVBytes(wavData)
	if err != nil {
		return nil, fmt.Errorf("tts: decode synth response: %w", err)
	}
	return samples, nil
}

// Stop halts any in-flight utterance immediately.
func (a *Adapter) Stop() {
	a.playbackMu.Lock()
	a.pending = nil
	a.playbackMu.Unlock()
	a.signalDone()
}

// IsSpeaking reports whether an utterance is currently playing.
func (a *Adapter) IsSpeaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speaking
}

// SetVoice changes the voice used for subsequent Speak calls.
func (a *Adapter) SetVoice(voice string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.voice = voice
}

// SetRate sets the speaking rate in words per minute, clamped to [90, 400].
func (a *Adapter) SetRate(wpm int) {
	if wpm < minRateWPM {
		wpm = minRateWPM
	}
	if wpm > maxRateWPM {
		wpm = maxRateWPM
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rateWPM = wpm
}

// SetVolume sets playback volume, clamped to [0, 1].
func (a *Adapter) SetVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.volume = volume
}

// Close stops playback and releases the audio device.
func (a *Adapter) Close() error {
	a.Stop()
	if a.device != nil {
		a.device.Uninit()
	}
	if a.ctx != nil {
		a.ctx.Uninit()
	}
	return nil
}

type synthRequest struct {
	Text    string `json:"text"`
	Voice   string `json:"voice"`
	RateWPM int    `json:"rate_wpm,omitempty"`
}
