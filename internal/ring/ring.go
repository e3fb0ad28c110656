// Package ring implements a fixed-duration mono sample ring buffer: a
// single writer (the audio capture callback) and any number of readers
// (the capture state machine snapshotting pre-roll) share it safely.
package ring

import "sync"

// Buffer is a fixed-capacity circular buffer of float32 PCM samples.
type Buffer struct {
	mu       sync.Mutex
	data     []float32
	cursor   int
	wrapped  bool
	sampleHz int
}

// New creates a Buffer sized to hold durationSeconds of audio at sampleHz.
func New(durationSeconds float64, sampleHz int) *Buffer {
	capacity := int(durationSeconds * float64(sampleHz))
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		data:     make([]float32, capacity),
		sampleHz: sampleHz,
	}
}

// Write appends samples, overwriting the oldest data once capacity is
// exceeded. A single write larger than capacity keeps only its tail.
func (b *Buffer) Write(samples []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(samples) >= len(b.data) {
		copy(b.data, samples[len(samples)-len(b.data):])
		b.cursor = 0
		b.wrapped = true
		return
	}

	for _, s := range samples {
		b.data[b.cursor] = s
		b.cursor++
		if b.cursor == len(b.data) {
			b.cursor = 0
			b.wrapped = true
		}
	}
}

// ReadAll returns a copy of all buffered samples in chronological order.
func (b *Buffer) ReadAll() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readAllLocked()
}

func (b *Buffer) readAllLocked() []float32 {
	if !b.wrapped {
		out := make([]float32, b.cursor)
		copy(out, b.data[:b.cursor])
		return out
	}
	out := make([]float32, len(b.data))
	n := copy(out, b.data[b.cursor:])
	copy(out[n:], b.data[:b.cursor])
	return out
}

// ReadLast returns a copy of the most recent n samples (fewer if the
// buffer does not yet hold n samples).
func (b *Buffer) ReadLast(n int) []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	all := b.readAllLocked()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// ReadLastSeconds returns a copy of the most recent seconds of audio.
func (b *Buffer) ReadLastSeconds(seconds float64) []float32 {
	n := int(seconds * float64(b.sampleHz))
	return b.ReadLast(n)
}

// Clear resets the buffer to empty without releasing its backing array.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursor = 0
	b.wrapped = false
}

// AvailableDuration reports how many seconds of audio are currently held.
func (b *Buffer) AvailableDuration() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int
	if b.wrapped {
		n = len(b.data)
	} else {
		n = b.cursor
	}
	return float64(n) / float64(b.sampleHz)
}
