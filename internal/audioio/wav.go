package audioio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// SampleRate and BitDepth are the canonical scratch-file format every
// adapter in this tree writes and expects: mono, 16-bit PCM, 16kHz.
const (
	SampleRate = 16000
	BitDepth   = 16
	NumChans   = 1
)

// EncodeWAV renders float32 samples in [-1, 1] as a canonical mono 16-bit
// PCM WAV byte slice. The encoder needs to seek back and patch RIFF/data
// chunk sizes once the length is known, so this goes through a scratch
// file rather than an in-memory buffer.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	tmp, err := os.CreateTemp("", "voxd-encode-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create wav temp file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if err := WriteWAVFile(path, samples, sampleRate); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// WriteWAVFile writes samples to path as a canonical WAV scratch file,
// the format the external recognizer subprocess reads.
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav scratch file: %w", err)
	}
	defer f.Close()

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: NumChans, SampleRate: sampleRate},
		Data:   make([]int, len(samples)),
	}
	for i, s := range samples {
		clamped := float32(max(-1.0, min(1.0, float64(s))))
		buf.Data[i] = int(clamped * math.MaxInt16)
	}

	enc := wav.NewEncoder(f, sampleRate, BitDepth, NumChans, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return enc.Close()
}

// ReadWAVFile reads a WAV file back into normalized float32 samples.
func ReadWAVFile(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open wav scratch file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / math.MaxInt16
	}
	return samples, buf.Format.SampleRate, nil
}

// DecodeWAVBytes decodes an in-memory WAV payload (as returned by an HTTP
// synthesis endpoint) into normalized float32 samples. bytes.Reader
// satisfies io.ReadSeeker, so no scratch file is needed on the read path.
func DecodeWAVBytes(data []byte) ([]float32, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav bytes: %w", err)
	}
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / math.MaxInt16
	}
	return samples, buf.Format.SampleRate, nil
}

// ToPCM16Bytes renders float32 samples in [-1, 1] as little-endian signed
// 16-bit PCM bytes, the format low-level playback devices consume directly.
func ToPCM16Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		clamped := float32(max(-1.0, min(1.0, float64(s))))
		v := int16(clamped * math.MaxInt16)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
