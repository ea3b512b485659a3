package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"livemeet/internal/audio"
	"livemeet/internal/domain"
	"livemeet/internal/ports"
	"livemeet/internal/rules"
	"livemeet/internal/terms"
)

const commandQueueSize = 256

// liveSession is the actor that owns one session. Every mutation of its
// fields runs as a closure on the run goroutine; other goroutines only post.
type liveSession struct {
	ctrl   *SessionController
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func()
	done   chan struct{}

	session domain.Session
	snapMu  sync.Mutex
	snap    domain.Session

	media     *mediaSession
	streamGen int

	transcript  *transcriptLog
	evaluator   *rules.Evaluator
	explained   *terms.ExplainedSet
	recorder    *responseRecorder
	live        *liveManager
	terminology *terminologyPipeline
	watchdog    *watchdog

	silenceTimer *time.Timer
	silenceGen   int
	stopTickers  func()
}

// mediaSession is one STT stream paired with the capture feeding it.
type mediaSession struct {
	capture    ports.AudioSession
	stream     ports.StreamingSession
	chunker    *audio.Chunker
	gen        int
	stopping   chan struct{}
	audioDone  chan struct{}
	eventsDone chan struct{}
}

func newLiveSession(ctrl *SessionController, session domain.Session) *liveSession {
	ctx, cancel := context.WithCancel(context.Background())
	logger := ctrl.logger.With(
		zap.String("session_id", session.ID),
		zap.String("meeting_id", session.MeetingID),
	)

	s := &liveSession{
		ctrl:       ctrl,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		cmds:       make(chan func(), commandQueueSize),
		done:       make(chan struct{}),
		session:    session,
		snap:       session,
		transcript: newTranscriptLog(),
		evaluator:  rules.NewEvaluator(ctrl.deps.Triggers, ctrl.cfg.Triggers),
		explained:  terms.NewExplainedSet(),
		watchdog:   newWatchdog(ctrl.cfg.Watchdog),
	}

	provider := ""
	if ctrl.deps.Live != nil {
		provider = ctrl.deps.Live.Name()
	}
	s.recorder = newResponseRecorder(ctrl.deps.Gateway, session, provider, ctrl.cfg.Now, logger)
	s.live = newLiveManager(ctx, session, ctrl.deps.Live, ctrl.deps.Playback, s.recorder, s.explained,
		ctrl.deps.Events, s.post, ctrl.cfg.Live, logger)
	s.terminology = newTerminologyPipeline(ctx, session.ID, ctrl.deps.Terms, s.explained,
		ctrl.deps.Events, s.post, ctrl.cfg.Now, ctrl.cfg.Terminology, logger)
	return s
}

func (s *liveSession) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case fn := <-s.cmds:
			fn()
		}
	}
}

// post queues fn on the actor. It reports false once the session has ended.
func (s *liveSession) post(fn func()) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.cmds <- fn:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// call runs fn on the actor and waits for its result.
func (s *liveSession) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if !s.post(func() { errc <- fn() }) {
		return domain.ErrSessionEnded
	}
	select {
	case err := <-errc:
		return err
	case <-s.done:
		select {
		case err := <-errc:
			return err
		default:
			return domain.ErrSessionEnded
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *liveSession) setStatus(status domain.SessionStatus) {
	s.session.Status = status
	s.snapMu.Lock()
	s.snap = s.session
	s.snapMu.Unlock()
}

func (s *liveSession) snapshot() domain.Session {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return s.snap
}

func (s *liveSession) now() time.Time {
	return s.ctrl.cfg.Now()
}
