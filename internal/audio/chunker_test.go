package audio

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestFrameBytes(t *testing.T) {
	t.Parallel()

	if got := FrameBytes(16000, 1, 100*time.Millisecond); got != 3200 {
		t.Fatalf("expected 3200 bytes per 100ms frame, got %d", got)
	}
	if got := FrameBytes(0, 0, 0); got != 3200 {
		t.Fatalf("expected defaults to give 3200, got %d", got)
	}
	if got := FrameBytes(48000, 2, 20*time.Millisecond); got != 3840 {
		t.Fatalf("unexpected stereo frame size: %d", got)
	}
}

func TestChunkerEmitsFixedFrames(t *testing.T) {
	t.Parallel()

	c := NewChunker(1000, 1, 10*time.Millisecond) // 20 bytes
	if c.FrameSize() != 20 {
		t.Fatalf("unexpected frame size %d", c.FrameSize())
	}

	if frames := c.Write(make([]byte, 15)); len(frames) != 0 {
		t.Fatalf("expected no frame yet")
	}
	frames := c.Write(make([]byte, 30))
	if len(frames) != 2 || len(frames[0]) != 20 || len(frames[1]) != 20 {
		t.Fatalf("unexpected frames: %d", len(frames))
	}
	tail := c.Flush()
	if len(tail) != 4 {
		t.Fatalf("expected 4 byte tail, got %d", len(tail))
	}
	if c.Flush() != nil {
		t.Fatalf("expected empty flush")
	}
}

func TestChunkerFlushDropsHalfSample(t *testing.T) {
	t.Parallel()

	c := NewChunker(1000, 1, 10*time.Millisecond)
	c.Write([]byte{1, 2, 3})
	if tail := c.Flush(); !bytes.Equal(tail, []byte{1, 2}) {
		t.Fatalf("unexpected tail %v", tail)
	}
}

func TestChunkerReadFramesPreservesOrder(t *testing.T) {
	t.Parallel()

	input := make([]byte, 50)
	for i := range input {
		input[i] = byte(i)
	}

	c := NewChunker(1000, 1, 10*time.Millisecond)
	var got []byte
	var sizes []int
	err := c.ReadFrames(bytes.NewReader(input), func(frame []byte) {
		got = append(got, frame...)
		sizes = append(sizes, len(frame))
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, input) {
		t.Fatalf("frames reordered or lost")
	}
	if len(sizes) != 3 || sizes[0] != 20 || sizes[2] != 10 {
		t.Fatalf("unexpected frame sizes: %v", sizes)
	}
}

func TestChunkerReadFramesReturnsReadError(t *testing.T) {
	t.Parallel()

	c := NewChunker(1000, 1, 10*time.Millisecond)
	err := c.ReadFrames(failingReader{}, func([]byte) {})
	if err == nil || err.Error() != "mic gone" {
		t.Fatalf("expected read error, got %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("mic gone") }
