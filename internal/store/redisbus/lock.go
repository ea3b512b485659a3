package redisbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"livemeet/internal/domain"
	"livemeet/internal/ports"
)

// DefaultLockTTL outlives the longest permitted session.
const DefaultLockTTL = 3*time.Hour + 10*time.Minute

var _ ports.SessionGateway = (*LockingGateway)(nil)

// LockingGateway claims a Redis key per meeting before delegating to the
// wrapped gateway, so two processes cannot run the same meeting.
type LockingGateway struct {
	next   ports.SessionGateway
	rdb    commands
	ttl    time.Duration
	logger *zap.Logger

	mu       sync.Mutex
	meetings map[string]string
}

func NewLockingGateway(next ports.SessionGateway, rdb commands, ttl time.Duration, logger *zap.Logger) *LockingGateway {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LockingGateway{
		next:     next,
		rdb:      rdb,
		ttl:      ttl,
		logger:   logger,
		meetings: make(map[string]string),
	}
}

func (g *LockingGateway) StartSession(ctx context.Context, session domain.Session) error {
	key := meetingLockKey(session.MeetingID)
	ok, err := g.rdb.SetNX(ctx, key, session.ID, g.ttl).Result()
	if err != nil {
		return fmt.Errorf("claim meeting lock: %w", err)
	}
	if !ok {
		holder, err := g.rdb.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			g.logger.Warn("failed to read meeting lock holder", zap.Error(err))
		}
		return &domain.ConflictError{MeetingID: session.MeetingID, SessionID: holder}
	}

	if err := g.next.StartSession(ctx, session); err != nil {
		g.unlock(context.WithoutCancel(ctx), session.MeetingID, session.ID)
		return err
	}

	g.mu.Lock()
	g.meetings[session.ID] = session.MeetingID
	g.mu.Unlock()
	return nil
}

func (g *LockingGateway) PauseSession(ctx context.Context, sessionID string, at time.Time) error {
	return g.next.PauseSession(ctx, sessionID, at)
}

func (g *LockingGateway) ResumeSession(ctx context.Context, sessionID string, at time.Time) error {
	return g.next.ResumeSession(ctx, sessionID, at)
}

// EndSession releases the meeting lock even when the wrapped gateway fails;
// the session is over either way.
func (g *LockingGateway) EndSession(ctx context.Context, sessionID string, reason domain.EndReason, at time.Time) error {
	err := g.next.EndSession(ctx, sessionID, reason, at)

	g.mu.Lock()
	meetingID, ok := g.meetings[sessionID]
	delete(g.meetings, sessionID)
	g.mu.Unlock()
	if ok {
		g.unlock(ctx, meetingID, sessionID)
	}
	return err
}

func (g *LockingGateway) InsertTranscript(ctx context.Context, sessionID string, event domain.TranscriptEvent) error {
	return g.next.InsertTranscript(ctx, sessionID, event)
}

func (g *LockingGateway) InsertAIMessage(ctx context.Context, record domain.AIResponseRecord) error {
	return g.next.InsertAIMessage(ctx, record)
}

// unlock deletes the lock only while sessionID still holds it.
func (g *LockingGateway) unlock(ctx context.Context, meetingID, sessionID string) {
	key := meetingLockKey(meetingID)
	holder, err := g.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			g.logger.Warn("failed to read meeting lock", zap.String("meeting_id", meetingID), zap.Error(err))
		}
		return
	}
	if holder != sessionID {
		return
	}
	if err := g.rdb.Del(ctx, key).Err(); err != nil {
		g.logger.Warn("failed to release meeting lock", zap.String("meeting_id", meetingID), zap.Error(err))
	}
}
