package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"livemeet/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "data", "livemeet.sqlite"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSession(id, meeting string) domain.Session {
	return domain.Session{
		ID:        id,
		MeetingID: meeting,
		Status:    domain.SessionStatusActive,
		StartedAt: time.Unix(1_700_000_000, 0),
		AIMode:    domain.AIModeText,
	}
}

func TestStartSessionConflictsWhileOpen(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	if err := store.StartSession(ctx, testSession("s1", "m1")); err != nil {
		t.Fatalf("start: %v", err)
	}

	err := store.StartSession(ctx, testSession("s2", "m1"))
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) || conflict.SessionID != "s1" {
		t.Fatalf("expected conflict naming s1, got %v", err)
	}

	if err := store.PauseSession(ctx, "s1", time.Now()); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := store.StartSession(ctx, testSession("s2", "m1")); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("paused session should still conflict, got %v", err)
	}

	if err := store.EndSession(ctx, "s1", domain.EndReasonUser, time.Now()); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := store.StartSession(ctx, testSession("s2", "m1")); err != nil {
		t.Fatalf("start after end: %v", err)
	}
}

func TestLifecycleUpdatesAreIdempotent(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	if err := store.StartSession(ctx, testSession("s1", "m1")); err != nil {
		t.Fatalf("start: %v", err)
	}

	first := time.Unix(1_700_000_100, 0)
	for i := 0; i < 2; i++ {
		if err := store.PauseSession(ctx, "s1", first); err != nil {
			t.Fatalf("pause: %v", err)
		}
		if err := store.ResumeSession(ctx, "s1", first); err != nil {
			t.Fatalf("resume: %v", err)
		}
	}
	if err := store.EndSession(ctx, "s1", domain.EndReasonIdleTimeout, first); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := store.EndSession(ctx, "s1", domain.EndReasonUser, first.Add(time.Hour)); err != nil {
		t.Fatalf("second end: %v", err)
	}

	got, err := store.Session(ctx, "s1")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if got.Status != domain.SessionStatusEnded || got.EndedAt == nil || !got.EndedAt.Equal(first) {
		t.Fatalf("unexpected session: %+v", got)
	}

	if _, err := store.Session(ctx, "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInsertTranscriptIgnoresReplays(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	if err := store.StartSession(ctx, testSession("s1", "m1")); err != nil {
		t.Fatalf("start: %v", err)
	}

	start := 1.25
	lines := []domain.TranscriptEvent{
		{ID: "1-0.000", Speaker: "Speaker 1", Text: "hello", Timestamp: time.Unix(10, 0), StartTime: &start, IsFinal: true},
		{ID: "1-1.500", Text: "world", Timestamp: time.Unix(11, 0), IsFinal: true},
		{ID: "1-0.000", Text: "hello again", Timestamp: time.Unix(12, 0), IsFinal: true},
	}
	for _, line := range lines {
		if err := store.InsertTranscript(ctx, "s1", line); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := store.Transcript(ctx, "s1")
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if len(got) != 2 || got[0].Text != "hello" || got[1].Text != "world" {
		t.Fatalf("unexpected transcript: %+v", got)
	}
	if got[0].StartTime == nil || *got[0].StartTime != 1.25 || got[0].Speaker != "Speaker 1" {
		t.Fatalf("lost metadata: %+v", got[0])
	}
}

func TestInsertAIMessageOncePerTurn(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	if err := store.StartSession(ctx, testSession("s1", "m1")); err != nil {
		t.Fatalf("start: %v", err)
	}

	record := domain.AIResponseRecord{
		ID:        "r1",
		TurnID:    "t1",
		SessionID: "s1",
		MeetingID: "m1",
		Content:   "Here is a summary.",
		Provider:  "gemini-live",
		Mode:      domain.AIModeText,
		CreatedAt: time.Unix(20, 0),
	}
	if err := store.InsertAIMessage(ctx, record); err != nil {
		t.Fatalf("insert: %v", err)
	}
	retry := record
	retry.ID = "r2"
	if err := store.InsertAIMessage(ctx, retry); err != nil {
		t.Fatalf("retry insert: %v", err)
	}

	got, err := store.AIMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r1" || got[0].Content != record.Content {
		t.Fatalf("unexpected messages: %+v", got)
	}
}
