package lifecycle

import (
	"fmt"

	"github.com/gen2brain/malgo"

	"github.com/quietsignal/voxd/internal/audioio"
)

// captureDevice owns one microphone input device and forwards every
// captured frame to onFrame as normalized float32 PCM, mirroring the TTS
// adapter's playback device setup on the capture side.
type captureDevice struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// newCaptureDevice opens the default capture device at sampleRate, mono,
// 16-bit PCM, invoking onFrame on every buffer the driver delivers.
func newCaptureDevice(sampleRate int, onFrame func([]float32)) (*captureDevice, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: init capture context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)

	onData := func(pOutput, pInput []byte, frameCount uint32) {
		samples, _, err := audioio.Decode(pInput, audioio.CodecPCM, sampleRate)
		if err != nil {
			return
		}
		onFrame(samples)
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		mctx.Uninit()
		return nil, fmt.Errorf("lifecycle: init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return nil, fmt.Errorf("lifecycle: start capture device: %w", err)
	}

	return &captureDevice{ctx: mctx, device: device}, nil
}

// Close stops and releases the capture device.
func (c *captureDevice) Close() {
	if c.device != nil {
		c.device.Uninit()
	}
	if c.ctx != nil {
		c.ctx.Uninit()
	}
}
