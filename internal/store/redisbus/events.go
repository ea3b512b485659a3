package redisbus

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"livemeet/internal/domain"
	"livemeet/internal/ports"
)

const (
	EventsChannel      = keyPrefix + "events"
	publishBufferSize  = 256
	publishCallTimeout = 2 * time.Second
)

// Envelope is the JSON published for every session event.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload"`
}

var _ ports.EventSink = (*Publisher)(nil)

// Publisher fans session events out over Redis pub/sub. Calls never block
// on the network: envelopes are queued and published by Run.
type Publisher struct {
	rdb     commands
	channel string
	logger  *zap.Logger
	queue   chan Envelope
	now     func() time.Time
}

func NewPublisher(rdb commands, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		rdb:     rdb,
		channel: EventsChannel,
		logger:  logger,
		queue:   make(chan Envelope, publishBufferSize),
		now:     time.Now,
	}
}

// Run publishes queued envelopes until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-p.queue:
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			callCtx, cancel := context.WithTimeout(ctx, publishCallTimeout)
			err = p.rdb.Publish(callCtx, p.channel, string(data)).Err()
			cancel()
			if err != nil {
				p.logger.Warn("event publish failed", zap.String("type", env.Type), zap.Error(err))
			}
		}
	}
}

func (p *Publisher) enqueue(kind, sessionID string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("event encode failed", zap.String("type", kind), zap.Error(err))
		return
	}
	env := Envelope{Type: kind, SessionID: sessionID, At: p.now(), Payload: raw}
	select {
	case p.queue <- env:
	default:
		p.logger.Warn("event queue full, dropping", zap.String("type", kind), zap.String("session_id", sessionID))
	}
}

func (p *Publisher) SessionStateChanged(session domain.Session, reason domain.SessionStateReason) {
	p.enqueue("session_state", session.ID, map[string]any{"session": session, "reason": reason})
}

func (p *Publisher) PartialTranscript(sessionID string, event domain.TranscriptEvent) {
	p.enqueue("transcript_partial", sessionID, event)
}

func (p *Publisher) FinalTranscript(sessionID string, event domain.TranscriptEvent) {
	p.enqueue("transcript_final", sessionID, event)
}

func (p *Publisher) TriggerFired(sessionID string, trigger domain.TriggerEvent) {
	p.enqueue("trigger", sessionID, trigger)
}

func (p *Publisher) AIResponseChunk(sessionID string, turnID string, buffer string) {
	p.enqueue("ai_chunk", sessionID, map[string]string{"turnId": turnID, "buffer": buffer})
}

func (p *Publisher) AIResponseCompleted(sessionID string, record domain.AIResponseRecord) {
	p.enqueue("ai_completed", sessionID, record)
}

func (p *Publisher) TermCard(sessionID string, card domain.TermCard) {
	p.enqueue("term_card", sessionID, card)
}

func (p *Publisher) DurationWarning(sessionID string, elapsed time.Duration) {
	p.enqueue("duration_warning", sessionID, map[string]int64{"elapsedSeconds": int64(elapsed / time.Second)})
}

func (p *Publisher) SessionError(sessionID string, code domain.ErrorCode, detail string) {
	p.enqueue("session_error", sessionID, map[string]string{"code": string(code), "detail": detail})
}
