package bootstrap

import (
	"time"

	"livemeet/internal/domain"
	"livemeet/internal/ports"
)

// fanout forwards every event to each sink in order.
type fanout []ports.EventSink

var _ ports.EventSink = fanout(nil)

func (f fanout) SessionStateChanged(session domain.Session, reason domain.SessionStateReason) {
	for _, sink := range f {
		sink.SessionStateChanged(session, reason)
	}
}

func (f fanout) PartialTranscript(sessionID string, event domain.TranscriptEvent) {
	for _, sink := range f {
		sink.PartialTranscript(sessionID, event)
	}
}

func (f fanout) FinalTranscript(sessionID string, event domain.TranscriptEvent) {
	for _, sink := range f {
		sink.FinalTranscript(sessionID, event)
	}
}

func (f fanout) TriggerFired(sessionID string, trigger domain.TriggerEvent) {
	for _, sink := range f {
		sink.TriggerFired(sessionID, trigger)
	}
}

func (f fanout) AIResponseChunk(sessionID string, turnID string, buffer string) {
	for _, sink := range f {
		sink.AIResponseChunk(sessionID, turnID, buffer)
	}
}

func (f fanout) AIResponseCompleted(sessionID string, record domain.AIResponseRecord) {
	for _, sink := range f {
		sink.AIResponseCompleted(sessionID, record)
	}
}

func (f fanout) TermCard(sessionID string, card domain.TermCard) {
	for _, sink := range f {
		sink.TermCard(sessionID, card)
	}
}

func (f fanout) DurationWarning(sessionID string, elapsed time.Duration) {
	for _, sink := range f {
		sink.DurationWarning(sessionID, elapsed)
	}
}

func (f fanout) SessionError(sessionID string, code domain.ErrorCode, detail string) {
	for _, sink := range f {
		sink.SessionError(sessionID, code, detail)
	}
}
