package audio

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"livemeet/internal/ports"
)

const (
	defaultPlaybackRate = 24000
	playbackQueueSize   = 64
)

var _ ports.AudioPlayback = (*FFPlayPlayback)(nil)

// FFPlayPlayback pipes model PCM output into ffplay. Play never blocks: audio
// is queued and written by a background goroutine, and dropped when the
// queue is full.
type FFPlayPlayback struct {
	command string
	logger  *zap.Logger

	mu     sync.Mutex
	rate   int
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	queue  chan []byte
	done   chan struct{}
	closed bool
}

func NewFFPlayPlayback(command string, logger *zap.Logger) *FFPlayPlayback {
	if command == "" {
		command = "ffplay"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFPlayPlayback{command: command, logger: logger}
}

func (p *FFPlayPlayback) Play(mimeType string, data []byte) {
	if len(data) == 0 {
		return
	}
	rate, ok := pcmRate(mimeType)
	if !ok {
		p.logger.Debug("skipping unsupported audio", zap.String("mime_type", mimeType))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.cmd != nil && p.rate != rate {
		p.stopLocked()
	}
	if p.cmd == nil {
		if err := p.startLocked(rate); err != nil {
			p.logger.Warn("audio playback unavailable", zap.Error(err))
			return
		}
	}

	select {
	case p.queue <- append([]byte(nil), data...):
	default:
		p.logger.Warn("playback queue full, dropping audio")
	}
}

// Close stops the player after the queued audio is written.
func (p *FFPlayPlayback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.stopLocked()
	return nil
}

func (p *FFPlayPlayback) startLocked(rate int) error {
	cmd := exec.Command(p.command, playbackArgs(rate)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create ffplay stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffplay: %w", err)
	}

	queue := make(chan []byte, playbackQueueSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range queue {
			if _, err := stdin.Write(chunk); err != nil {
				p.logger.Warn("audio playback write failed", zap.Error(err))
				for range queue {
				}
				return
			}
		}
	}()

	p.cmd, p.stdin, p.queue, p.done, p.rate = cmd, stdin, queue, done, rate
	return nil
}

func (p *FFPlayPlayback) stopLocked() {
	if p.cmd == nil {
		return
	}
	close(p.queue)
	<-p.done
	_ = p.stdin.Close()
	if err := p.cmd.Wait(); err != nil {
		p.logger.Debug("ffplay exited", zap.Error(err))
	}
	p.cmd, p.stdin, p.queue, p.done = nil, nil, nil, nil
}

func playbackArgs(rate int) []string {
	return []string{
		"-nodisp",
		"-autoexit",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "s16le",
		"-ar", strconv.Itoa(rate),
		"-ch_layout", "mono",
		"-i", "-",
	}
}

// pcmRate reads the sample rate from a type like "audio/pcm;rate=24000".
func pcmRate(mimeType string) (int, bool) {
	parts := strings.Split(mimeType, ";")
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "audio/pcm") {
		return 0, false
	}
	for _, param := range parts[1:] {
		key, value, found := strings.Cut(strings.TrimSpace(param), "=")
		if !found || !strings.EqualFold(key, "rate") {
			continue
		}
		rate, err := strconv.Atoi(value)
		if err != nil || rate <= 0 {
			return 0, false
		}
		return rate, true
	}
	return defaultPlaybackRate, true
}
