package usecase

import (
	"testing"
	"time"

	"livemeet/internal/domain"
)

func TestTranscriptLogFinalSupersedesPartials(t *testing.T) {
	t.Parallel()

	log := newTranscriptLog()
	log.ApplyPartial(partial("u1", "A", "hel"))
	log.ApplyPartial(partial("u2", "B", "yes"))
	log.ApplyPartial(partial("u1", "A", "hello"))

	visible := log.Visible()
	if len(visible) != 2 || visible[0].Text != "hello" {
		t.Fatalf("expected partial to be replaced in place, got %+v", visible)
	}

	log.ApplyFinal(final("u1", "A", "hello there"))
	visible = log.Visible()
	if len(visible) != 2 || visible[0].Text != "hello there" || !visible[0].IsFinal || visible[1].ID != "u2" {
		t.Fatalf("unexpected visible log: %+v", visible)
	}
	if finals := log.Finals(); len(finals) != 1 {
		t.Fatalf("expected one final, got %d", len(finals))
	}
}

func TestTranscriptLogClampsOutOfOrderFinal(t *testing.T) {
	t.Parallel()

	log := newTranscriptLog()
	first := final("u1", "A", "first")
	first.Timestamp = clockBase.Add(10 * time.Second)
	second := final("u2", "A", "second")
	second.Timestamp = clockBase

	log.ApplyFinal(first)
	got := log.ApplyFinal(second)
	if !got.Timestamp.Equal(first.Timestamp) {
		t.Fatalf("expected clamped timestamp, got %v", got.Timestamp)
	}
	if log.Text() != "first\nsecond" {
		t.Fatalf("unexpected text %q", log.Text())
	}
}

func TestTranscriptLogAssignsMissingIDs(t *testing.T) {
	t.Parallel()

	log := newTranscriptLog()
	log.ApplyPartial(domain.TranscriptEvent{Text: "partial"})
	got := log.ApplyFinal(domain.TranscriptEvent{Text: "final", IsFinal: true})
	if got.ID == "" {
		t.Fatalf("expected generated id")
	}
	if visible := log.Visible(); len(visible) != 1 {
		t.Fatalf("expected anonymous partial to be superseded, got %+v", visible)
	}

	log.ApplyPartial(domain.TranscriptEvent{ID: "u9", Text: "dangling"})
	log.DropPartials()
	if visible := log.Visible(); len(visible) != 1 {
		t.Fatalf("expected partials to be dropped")
	}
}
