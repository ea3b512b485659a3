package usecase

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"livemeet/internal/domain"
)

// transcriptLog is the visible transcript of one session: finals in order,
// followed by the partials still being refined.
type transcriptLog struct {
	mu       sync.Mutex
	finals   []domain.TranscriptEvent
	partials []domain.TranscriptEvent
}

func newTranscriptLog() *transcriptLog {
	return &transcriptLog{}
}

// ApplyPartial replaces the pending partial with the same id, or appends it.
func (l *transcriptLog) ApplyPartial(event domain.TranscriptEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.partials {
		if l.partials[i].ID == event.ID {
			l.partials[i] = event
			return
		}
	}
	l.partials = append(l.partials, event)
}

// ApplyFinal drops the partial it supersedes and appends the final. A final
// older than the last one is clamped so timestamps never go backwards. A
// final without a provider id gets one.
func (l *transcriptLog) ApplyFinal(event domain.TranscriptEvent) domain.TranscriptEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.partials {
		if l.partials[i].ID == event.ID {
			l.partials = append(l.partials[:i], l.partials[i+1:]...)
			break
		}
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if n := len(l.finals); n > 0 {
		last := l.finals[n-1].Timestamp
		if event.Timestamp.Before(last) {
			event.Timestamp = last
		}
	}
	l.finals = append(l.finals, event)
	return event
}

// DropPartials forgets in-flight partials. Used when the stream they came
// from is closed.
func (l *transcriptLog) DropPartials() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.partials = nil
}

func (l *transcriptLog) Visible() []domain.TranscriptEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.TranscriptEvent, 0, len(l.finals)+len(l.partials))
	out = append(out, l.finals...)
	out = append(out, l.partials...)
	return out
}

func (l *transcriptLog) Finals() []domain.TranscriptEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.TranscriptEvent(nil), l.finals...)
}

// Text joins the final transcript lines.
func (l *transcriptLog) Text() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	parts := make([]string, 0, len(l.finals))
	for _, event := range l.finals {
		parts = append(parts, event.Text)
	}
	return strings.Join(parts, "\n")
}
