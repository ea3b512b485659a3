package commands

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"livemeet/internal/domain"
	"livemeet/internal/ports"
)

var _ ports.EventSink = (*consoleSink)(nil)

// consoleSink renders session events as terminal lines. Partial transcripts
// and streaming chunks are logged at debug level only.
type consoleSink struct {
	mu     sync.Mutex
	out    io.Writer
	logger *zap.Logger

	ended     chan struct{}
	endedOnce sync.Once
}

func newConsoleSink(out io.Writer, logger *zap.Logger) *consoleSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &consoleSink{out: out, logger: logger, ended: make(chan struct{})}
}

// Ended is closed once a session reaches the ended state.
func (c *consoleSink) Ended() <-chan struct{} {
	return c.ended
}

func (c *consoleSink) Notice(text string) {
	c.printf("! %s\n", text)
}

func (c *consoleSink) SessionStateChanged(session domain.Session, reason domain.SessionStateReason) {
	c.printf("-- %s\n", sessionReasonMessage(reason))
	if session.Ended() {
		c.endedOnce.Do(func() { close(c.ended) })
	}
}

func (c *consoleSink) PartialTranscript(sessionID string, event domain.TranscriptEvent) {
	c.logger.Debug("partial transcript", zap.String("session_id", sessionID), zap.String("text", event.Text))
}

func (c *consoleSink) FinalTranscript(_ string, event domain.TranscriptEvent) {
	c.printf("[%s] %s\n", event.Timestamp.Format("15:04:05"), speakerLine(event))
}

func (c *consoleSink) TriggerFired(_ string, trigger domain.TriggerEvent) {
	c.printf("   (%s)\n", triggerLabel(trigger.Type))
}

func (c *consoleSink) AIResponseChunk(sessionID string, turnID string, buffer string) {
	c.logger.Debug("ai chunk", zap.String("session_id", sessionID), zap.String("turn_id", turnID), zap.Int("chars", len(buffer)))
}

func (c *consoleSink) AIResponseCompleted(_ string, record domain.AIResponseRecord) {
	c.printf(">> AI: %s\n", record.Content)
}

func (c *consoleSink) TermCard(_ string, card domain.TermCard) {
	c.printf("   * %s: %s\n", card.Term, card.Description)
}

func (c *consoleSink) DurationWarning(_ string, elapsed time.Duration) {
	c.printf("-- Session has run for %s and will end at the duration limit\n", elapsed.Round(time.Minute))
}

func (c *consoleSink) SessionError(sessionID string, code domain.ErrorCode, detail string) {
	c.logger.Warn("session error", zap.String("session_id", sessionID), zap.String("code", string(code)), zap.String("detail", detail))
	c.printf("! %s\n", errorMessage(code, detail))
}

func (c *consoleSink) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func speakerLine(event domain.TranscriptEvent) string {
	if event.Speaker == "" {
		return event.Text
	}
	return event.Speaker + ": " + event.Text
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonStarted:
		return "Session started"
	case domain.SessionReasonPaused:
		return "Session paused"
	case domain.SessionReasonResumed:
		return "Session resumed"
	case domain.SessionReasonEndedByUser:
		return "Session ended"
	case domain.SessionReasonIdleTimeout:
		return "Session ended after a long silence"
	case domain.SessionReasonDurationLimit:
		return "Session ended at the duration limit"
	default:
		return ""
	}
}

func triggerLabel(kind domain.TriggerType) string {
	switch kind {
	case domain.TriggerStop:
		return "assistant asked to stop"
	case domain.TriggerDirectCall:
		return "assistant addressed"
	case domain.TriggerSummaryRequest:
		return "summary requested"
	case domain.TriggerResearchRequest:
		return "research requested"
	case domain.TriggerQuestion:
		return "question detected"
	case domain.TriggerLongSpeech:
		return "long monologue"
	case domain.TriggerSilence:
		return "silence"
	default:
		return string(kind)
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeAISetup:
		return "AI connection failed"
	case domain.ErrorCodeAIStream:
		return "AI connection lost"
	case domain.ErrorCodePersistence:
		return "Saving failed"
	case domain.ErrorCodeTerminology:
		return "Term lookup failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
