package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"livemeet/internal/domain"
	"livemeet/internal/ports"
)

const (
	SummaryQueueKey = keyPrefix + "summaries"
	summaryDedupTTL = 24 * time.Hour
)

// SummaryTask is the queued request for report generation.
type SummaryTask struct {
	ID        string           `json:"id"`
	SessionID string           `json:"sessionId"`
	MeetingID string           `json:"meetingId"`
	Reason    domain.EndReason `json:"reason"`
	StartedAt time.Time        `json:"startedAt"`
	EndedAt   *time.Time       `json:"endedAt,omitempty"`
}

var _ ports.SummaryRequester = (*SummaryQueue)(nil)

// SummaryQueue pushes one task per ended session onto a Redis list.
type SummaryQueue struct {
	rdb    commands
	logger *zap.Logger
}

func NewSummaryQueue(rdb commands, logger *zap.Logger) *SummaryQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryQueue{rdb: rdb, logger: logger}
}

func (q *SummaryQueue) RequestSummary(ctx context.Context, session domain.Session, reason domain.EndReason) error {
	dedup := keyPrefix + "summary:" + session.ID
	fresh, err := q.rdb.SetNX(ctx, dedup, "1", summaryDedupTTL).Result()
	if err != nil {
		return fmt.Errorf("summary dedup: %w", err)
	}
	if !fresh {
		q.logger.Debug("summary already requested", zap.String("session_id", session.ID))
		return nil
	}

	task := SummaryTask{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		MeetingID: session.MeetingID,
		Reason:    reason,
		StartedAt: session.StartedAt,
		EndedAt:   session.EndedAt,
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode summary task: %w", err)
	}
	if err := q.rdb.LPush(ctx, SummaryQueueKey, string(data)).Err(); err != nil {
		_ = q.rdb.Del(context.WithoutCancel(ctx), dedup).Err()
		return fmt.Errorf("enqueue summary task: %w", err)
	}
	q.logger.Info("summary requested", zap.String("session_id", session.ID), zap.String("task_id", task.ID))
	return nil
}
