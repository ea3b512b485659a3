package usecase

import (
	"fmt"

	"go.uber.org/zap"

	"livemeet/internal/audio"
	"livemeet/internal/domain"
	"livemeet/internal/ports"
)

// pumpAudioFrames forwards captured PCM to the STT stream in fixed frames
// until capture ends. A failed upload is logged and the next frame is tried.
// Read errors after stopping is closed are expected and not reported.
func pumpAudioFrames(
	capture ports.AudioSession,
	stream ports.StreamingSession,
	chunker *audio.Chunker,
	sessionID string,
	events ports.EventSink,
	logger *zap.Logger,
	stopping <-chan struct{},
	done chan struct{},
) {
	defer close(done)

	failures := 0
	err := chunker.ReadFrames(capture, func(frame []byte) {
		if sendErr := stream.SendAudio(frame); sendErr != nil {
			failures++
			if failures == 1 || failures%50 == 0 {
				logger.Warn("audio frame upload failed", zap.Error(sendErr), zap.Int("failures", failures))
			}
			return
		}
		failures = 0
	})
	if err != nil {
		select {
		case <-stopping:
			// capture was closed underneath the read
			return
		default:
		}
		logger.Warn("audio capture error", zap.Error(err))
		events.SessionError(sessionID, domain.ErrorCodeAudioStream, fmt.Sprintf("audio capture error: %v", err))
	}
}

// captureConfig makes the microphone produce what the transcription stream
// was told to expect.
func captureConfig(capture ports.AudioConfig, stream ports.StreamingConfig) ports.AudioConfig {
	if stream.SampleRate > 0 {
		capture.SampleRate = stream.SampleRate
	}
	if stream.Channels > 0 {
		capture.Channels = stream.Channels
	}
	return capture
}
