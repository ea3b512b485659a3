package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"livemeet/internal/domain"
	"livemeet/internal/ports"
)

// responseRecorder accumulates the streamed text of one assistant turn and
// persists it exactly once. Persisting is guarded per turn id, so a
// completion signal that arrives after a flush for the same turn is ignored.
//
// A turn whose write failed is never merged with later text. A failed
// completion keeps the buffer for the next completion or flush; a failed
// flush, or new text after a failed completion, seals the turn into pending
// where RetryPending picks it up.
type responseRecorder struct {
	gateway   ports.SessionGateway
	logger    *zap.Logger
	now       func() time.Time
	sessionID string
	meetingID string
	provider  string
	mode      domain.AIMode

	mu        sync.Mutex
	buf       strings.Builder
	turnID    string
	failed    bool
	pending   []domain.AIResponseRecord
	finalized map[string]struct{}
}

func newResponseRecorder(
	gateway ports.SessionGateway,
	session domain.Session,
	provider string,
	now func() time.Time,
	logger *zap.Logger,
) *responseRecorder {
	return &responseRecorder{
		gateway:   gateway,
		logger:    logger,
		now:       now,
		sessionID: session.ID,
		meetingID: session.MeetingID,
		provider:  provider,
		mode:      session.AIMode,
		finalized: make(map[string]struct{}),
	}
}

// AppendChunk adds text to the current turn, opening one if needed, and
// returns the turn id.
func (r *responseRecorder) AppendChunk(text string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed {
		r.sealLocked()
	}
	if r.turnID == "" {
		r.turnID = uuid.NewString()
	}
	r.buf.WriteString(text)
	return r.turnID
}

func (r *responseRecorder) Buffer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

func (r *responseRecorder) TurnID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turnID
}

// CompleteTurn persists the buffered turn after a provider completion signal.
// It reports false when there was nothing to persist.
func (r *responseRecorder) CompleteTurn(ctx context.Context) (domain.AIResponseRecord, bool, error) {
	return r.persist(ctx, "ai_message.complete", false)
}

// Flush persists whatever is buffered. It is used before pause, end, STOP and
// when the connection drops without a completion signal.
func (r *responseRecorder) Flush(ctx context.Context) (domain.AIResponseRecord, bool, error) {
	return r.persist(ctx, "ai_message.flush", true)
}

// Clear drops the buffer without persisting.
func (r *responseRecorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

// Pending returns the sealed turns still waiting for a successful write.
func (r *responseRecorder) Pending() []domain.AIResponseRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AIResponseRecord(nil), r.pending...)
}

// RetryPending writes sealed turns in order and stops at the first failure.
// It returns the records that were written.
func (r *responseRecorder) RetryPending(ctx context.Context) ([]domain.AIResponseRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var written []domain.AIResponseRecord
	for len(r.pending) > 0 {
		record := r.pending[0]
		if _, done := r.finalized[record.TurnID]; !done {
			if err := r.gateway.InsertAIMessage(ctx, record); err != nil {
				return written, &domain.PersistenceError{Op: "ai_message.retry", Err: err}
			}
			r.finalized[record.TurnID] = struct{}{}
			written = append(written, record)
		}
		r.pending = r.pending[1:]
	}
	return written, nil
}

func (r *responseRecorder) persist(ctx context.Context, op string, sealOnFailure bool) (domain.AIResponseRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	content := r.buf.String()
	if strings.TrimSpace(content) == "" {
		r.resetLocked()
		return domain.AIResponseRecord{}, false, nil
	}
	if _, done := r.finalized[r.turnID]; done {
		r.logger.Debug("turn already finalized", zap.String("turn_id", r.turnID))
		r.resetLocked()
		return domain.AIResponseRecord{}, false, nil
	}

	record := r.recordLocked(content)
	if err := r.gateway.InsertAIMessage(ctx, record); err != nil {
		if sealOnFailure {
			r.sealLocked()
		} else {
			r.failed = true
		}
		return domain.AIResponseRecord{}, false, &domain.PersistenceError{Op: op, Err: err}
	}

	r.finalized[r.turnID] = struct{}{}
	r.resetLocked()
	return record, true, nil
}

func (r *responseRecorder) recordLocked(content string) domain.AIResponseRecord {
	return domain.AIResponseRecord{
		ID:        uuid.NewString(),
		TurnID:    r.turnID,
		SessionID: r.sessionID,
		MeetingID: r.meetingID,
		Content:   content,
		Provider:  r.provider,
		Mode:      r.mode,
		CreatedAt: r.now(),
	}
}

// sealLocked moves the buffered turn into pending and opens room for a new one.
func (r *responseRecorder) sealLocked() {
	content := r.buf.String()
	if strings.TrimSpace(content) != "" {
		if _, done := r.finalized[r.turnID]; !done {
			r.pending = append(r.pending, r.recordLocked(content))
		}
	}
	r.resetLocked()
}

func (r *responseRecorder) resetLocked() {
	r.buf.Reset()
	r.turnID = ""
	r.failed = false
}
