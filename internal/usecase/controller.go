package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"livemeet/internal/domain"
	"livemeet/internal/ports"
	"livemeet/internal/rules"
)

const (
	DefaultSilenceAfter        = 10 * time.Second
	DefaultContextPushInterval = 10 * time.Second
	DefaultFrameDuration       = 100 * time.Millisecond
)

// Config controls live session behavior. Zero values take the defaults.
type Config struct {
	Audio               ports.AudioConfig
	Streaming           ports.StreamingConfig
	FrameDuration       time.Duration
	SilenceAfter        time.Duration
	ContextPushInterval time.Duration
	Triggers            rules.EvaluatorConfig
	Live                LiveConfig
	Terminology         TerminologyConfig
	Watchdog            WatchdogConfig
	Now                 func() time.Time
}

// Dependencies are the collaborators of a SessionController. Live, Terms,
// Summaries and Playback are optional.
type Dependencies struct {
	Audio       ports.AudioCapture
	Transcriber ports.TranscriptionProvider
	Live        ports.LiveProvider
	Terms       ports.TermExtractor
	Gateway     ports.SessionGateway
	Summaries   ports.SummaryRequester
	Playback    ports.AudioPlayback
	Events      ports.EventSink
	Triggers    *rules.Engine
	Logger      *zap.Logger
}

// SessionController runs live meeting sessions, at most one per meeting.
// Each session is driven by its own actor goroutine.
type SessionController struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	sessions  map[string]*liveSession
	byMeeting map[string]*liveSession
}

func NewSessionController(deps Dependencies, cfg Config) *SessionController {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = nopEventSink{}
	}
	if deps.Triggers == nil {
		engine, err := rules.NewEngine("", []string{rules.DefaultAssistantName})
		if err != nil {
			panic(fmt.Sprintf("default trigger rules: %v", err))
		}
		deps.Triggers = engine
	}

	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}
	if cfg.SilenceAfter <= 0 {
		cfg.SilenceAfter = DefaultSilenceAfter
	}
	if cfg.ContextPushInterval <= 0 {
		cfg.ContextPushInterval = DefaultContextPushInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Watchdog = cfg.Watchdog.withDefaults()
	cfg.Terminology = cfg.Terminology.withDefaults()

	return &SessionController{
		deps:      deps,
		cfg:       cfg,
		logger:    deps.Logger,
		sessions:  make(map[string]*liveSession),
		byMeeting: make(map[string]*liveSession),
	}
}

// Start opens a session for meetingID. If the meeting already has a session
// that has not ended, a *domain.ConflictError naming it is returned.
func (c *SessionController) Start(ctx context.Context, meetingID string, mode domain.AIMode) (domain.Session, error) {
	meetingID = strings.TrimSpace(meetingID)
	if meetingID == "" {
		return domain.Session{}, errors.New("meeting id is required")
	}
	if mode == "" {
		mode = domain.AIModeText
	}

	c.mu.Lock()
	if existing, ok := c.byMeeting[meetingID]; ok {
		c.mu.Unlock()
		return domain.Session{}, &domain.ConflictError{MeetingID: meetingID, SessionID: existing.snapshot().ID}
	}
	session := domain.Session{
		ID:        uuid.NewString(),
		MeetingID: meetingID,
		Status:    domain.SessionStatusIdle,
		StartedAt: c.cfg.Now(),
		AIMode:    mode,
	}
	active := newLiveSession(c, session)
	c.byMeeting[meetingID] = active
	c.mu.Unlock()

	persisted := session
	persisted.Status = domain.SessionStatusActive
	if err := c.deps.Gateway.StartSession(ctx, persisted); err != nil {
		c.release(active)
		active.cancel()
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			return domain.Session{}, conflict
		}
		return domain.Session{}, &domain.PersistenceError{Op: "session.start", Err: err}
	}

	c.mu.Lock()
	c.sessions[session.ID] = active
	c.mu.Unlock()

	go active.run()
	if err := active.call(ctx, active.start); err != nil {
		c.logger.Error("failed to start session", zap.String("meeting_id", meetingID), zap.Error(err))
		c.deps.Events.SessionError(session.ID, domain.ErrorCodeStartup, err.Error())
		if endErr := c.deps.Gateway.EndSession(context.WithoutCancel(ctx), session.ID, domain.EndReasonUser, c.cfg.Now()); endErr != nil {
			c.logger.Warn("failed to close unstarted session", zap.Error(endErr))
		}
		c.release(active)
		c.mu.Lock()
		delete(c.sessions, session.ID)
		c.mu.Unlock()
		active.cancel()
		return domain.Session{}, err
	}
	return active.snapshot(), nil
}

// Pause suspends an active session, flushing any in-progress assistant turn.
func (c *SessionController) Pause(ctx context.Context, sessionID string) error {
	active, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	return active.call(ctx, func() error { return active.pause(ctx) })
}

// Resume reopens transcription for a paused session.
func (c *SessionController) Resume(ctx context.Context, sessionID string) error {
	active, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	return active.call(ctx, func() error { return active.resume(ctx) })
}

// End finalizes a session and requests its summary.
func (c *SessionController) End(ctx context.Context, sessionID string, reason domain.EndReason) error {
	active, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = domain.EndReasonUser
	}
	return active.call(ctx, func() error { return active.end(ctx, reason) })
}

// Session returns the latest snapshot of a session, including ended ones.
func (c *SessionController) Session(sessionID string) (domain.Session, error) {
	active, err := c.lookup(sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	return active.snapshot(), nil
}

// ActiveSession returns the non-ended session for a meeting, if any.
func (c *SessionController) ActiveSession(meetingID string) (domain.Session, bool) {
	c.mu.Lock()
	active, ok := c.byMeeting[meetingID]
	c.mu.Unlock()
	if !ok {
		return domain.Session{}, false
	}
	return active.snapshot(), true
}

// Transcript returns the visible transcript: finals, then pending partials.
func (c *SessionController) Transcript(sessionID string) ([]domain.TranscriptEvent, error) {
	active, err := c.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return active.transcript.Visible(), nil
}

func (c *SessionController) TermCards(sessionID string) ([]domain.TermCard, error) {
	active, err := c.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return active.terminology.Cards(), nil
}

// Shutdown ends every session that has not ended yet.
func (c *SessionController) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	open := make([]*liveSession, 0, len(c.byMeeting))
	for _, active := range c.byMeeting {
		open = append(open, active)
	}
	c.mu.Unlock()

	var errs []error
	for _, active := range open {
		id := active.snapshot().ID
		err := c.End(ctx, id, domain.EndReasonUser)
		if err != nil && !errors.Is(err, domain.ErrSessionEnded) && !errors.Is(err, domain.ErrSessionNotFound) {
			errs = append(errs, fmt.Errorf("end session %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (c *SessionController) lookup(sessionID string) (*liveSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	active, ok := c.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return active, nil
}

// release frees the meeting slot held by active.
func (c *SessionController) release(active *liveSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	meetingID := active.session.MeetingID
	if c.byMeeting[meetingID] == active {
		delete(c.byMeeting, meetingID)
	}
}

var _ ports.EventSink = nopEventSink{}

type nopEventSink struct{}

func (nopEventSink) SessionStateChanged(domain.Session, domain.SessionStateReason) {}
func (nopEventSink) PartialTranscript(string, domain.TranscriptEvent)              {}
func (nopEventSink) FinalTranscript(string, domain.TranscriptEvent)                {}
func (nopEventSink) TriggerFired(string, domain.TriggerEvent)                      {}
func (nopEventSink) AIResponseChunk(string, string, string)                        {}
func (nopEventSink) AIResponseCompleted(string, domain.AIResponseRecord)           {}
func (nopEventSink) TermCard(string, domain.TermCard)                              {}
func (nopEventSink) DurationWarning(string, time.Duration)                         {}
func (nopEventSink) SessionError(string, domain.ErrorCode, string)                 {}
