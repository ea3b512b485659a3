package audio

import (
	"errors"
	"io"
	"time"
)

const bytesPerSample = 2

// FrameBytes is the size of one frame of 16-bit PCM lasting d.
func FrameBytes(sampleRate, channels int, d time.Duration) int {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	samples := int(int64(sampleRate) * int64(d) / int64(time.Second))
	if samples < 1 {
		samples = 1
	}
	return samples * channels * bytesPerSample
}

// Chunker batches captured PCM into fixed-duration frames. Frames never split
// a sample.
type Chunker struct {
	frameSize int
	pending   []byte
}

func NewChunker(sampleRate, channels int, frameDuration time.Duration) *Chunker {
	size := FrameBytes(sampleRate, channels, frameDuration)
	return &Chunker{frameSize: size, pending: make([]byte, 0, size)}
}

func (c *Chunker) FrameSize() int { return c.frameSize }

// Write buffers samples and returns every completed frame.
func (c *Chunker) Write(samples []byte) [][]byte {
	c.pending = append(c.pending, samples...)

	var frames [][]byte
	for len(c.pending) >= c.frameSize {
		frame := make([]byte, c.frameSize)
		copy(frame, c.pending[:c.frameSize])
		frames = append(frames, frame)
		c.pending = c.pending[c.frameSize:]
	}
	return frames
}

// Flush returns the remaining partial frame, trimmed to whole samples.
func (c *Chunker) Flush() []byte {
	n := len(c.pending) - len(c.pending)%bytesPerSample
	if n <= 0 {
		c.pending = nil
		return nil
	}
	frame := append([]byte(nil), c.pending[:n]...)
	c.pending = nil
	return frame
}

// ReadFrames reads r until EOF, handing each frame to emit in order. A read
// error other than EOF is returned after the buffered tail is emitted.
func (c *Chunker) ReadFrames(r io.Reader, emit func(frame []byte)) error {
	buf := make([]byte, c.frameSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, frame := range c.Write(buf[:n]) {
				emit(frame)
			}
		}
		if err != nil {
			if tail := c.Flush(); len(tail) > 0 {
				emit(tail)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
