package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"livemeet/internal/audio"
	"livemeet/internal/domain"
	"livemeet/internal/rules"
)

// The methods below run on the session actor.

func (s *liveSession) start() error {
	if s.session.Status != domain.SessionStatusIdle {
		return &domain.TransitionError{Op: "start", From: s.session.Status}
	}
	if err := s.openMedia(); err != nil {
		return err
	}

	s.resetPipelines()
	s.watchdog.Start(s.now())
	s.startTickers()
	s.setStatus(domain.SessionStatusActive)

	s.logger.Info("session started", zap.String("mode", string(s.session.AIMode)))
	s.ctrl.deps.Events.SessionStateChanged(s.snapshot(), domain.SessionReasonStarted)
	return nil
}

func (s *liveSession) pause(ctx context.Context) error {
	if s.session.Status != domain.SessionStatusActive {
		return &domain.TransitionError{Op: "pause", From: s.session.Status}
	}

	s.quiesce()

	now := s.now()
	s.watchdog.Stop(now)
	if err := s.ctrl.deps.Gateway.PauseSession(ctx, s.session.ID, now); err != nil {
		s.reportPersistence("session.pause", err)
	}
	s.setStatus(domain.SessionStatusPaused)

	s.logger.Info("session paused")
	s.ctrl.deps.Events.SessionStateChanged(s.snapshot(), domain.SessionReasonPaused)
	return nil
}

func (s *liveSession) resume(ctx context.Context) error {
	if s.session.Status != domain.SessionStatusPaused {
		return &domain.TransitionError{Op: "resume", From: s.session.Status}
	}
	if err := s.openMedia(); err != nil {
		return err
	}
	s.live.RetryPending()

	now := s.now()
	s.watchdog.Start(now)
	s.startTickers()
	if err := s.ctrl.deps.Gateway.ResumeSession(ctx, s.session.ID, now); err != nil {
		s.reportPersistence("session.resume", err)
	}
	s.setStatus(domain.SessionStatusActive)

	s.logger.Info("session resumed")
	s.ctrl.deps.Events.SessionStateChanged(s.snapshot(), domain.SessionReasonResumed)
	return nil
}

func (s *liveSession) end(ctx context.Context, reason domain.EndReason) error {
	switch s.session.Status {
	case domain.SessionStatusActive, domain.SessionStatusPaused:
	default:
		return &domain.TransitionError{Op: "end", From: s.session.Status}
	}

	if s.session.Status == domain.SessionStatusActive {
		s.quiesce()
	}
	// a turn whose flush failed at pause gets its last write attempt here
	s.live.RetryPending()

	now := s.now()
	s.watchdog.Stop(now)
	if err := s.ctrl.deps.Gateway.EndSession(ctx, s.session.ID, reason, now); err != nil {
		s.reportPersistence("session.end", err)
	}
	s.session.EndedAt = &now
	s.setStatus(domain.SessionStatusEnded)

	ended := s.snapshot()
	s.logger.Info("session ended",
		zap.String("reason", string(reason)),
		zap.Duration("elapsed", s.watchdog.Elapsed(now)),
	)
	s.ctrl.deps.Events.SessionStateChanged(ended, reason.StateReason())

	if s.ctrl.deps.Summaries != nil {
		if err := s.ctrl.deps.Summaries.RequestSummary(ctx, ended, reason); err != nil {
			s.logger.Warn("summary request failed", zap.Error(err))
		}
	}

	s.ctrl.release(s)
	s.cancel()
	return nil
}

// quiesce stops everything that produces work for an active session: the
// tickers and timers, the AI connection (flushing its turn first), the
// terminology pipeline and the media streams. The transcript log and the
// trigger throttle are kept.
func (s *liveSession) quiesce() {
	if s.stopTickers != nil {
		s.stopTickers()
		s.stopTickers = nil
	}
	s.cancelSilence()

	s.live.Disconnect("session " + string(s.session.Status))
	s.terminology.Reset()
	s.explained.Reset()
	s.closeMedia()
	s.transcript.DropPartials()
}

func (s *liveSession) resetPipelines() {
	s.cancelSilence()
	s.evaluator.Reset()
	s.terminology.Reset()
	s.explained.Reset()
	s.recorder.Clear()
}

func (s *liveSession) openMedia() error {
	cfg := s.ctrl.cfg
	stream, err := s.ctrl.deps.Transcriber.StartStreaming(s.ctx, cfg.Streaming)
	if err != nil {
		return fmt.Errorf("start transcription stream: %w", err)
	}

	audioCfg := captureConfig(cfg.Audio, cfg.Streaming)
	capture, err := s.ctrl.deps.Audio.Start(s.ctx, audioCfg)
	if err != nil {
		_ = stream.Close()
		return fmt.Errorf("start audio capture: %w", err)
	}

	s.streamGen++
	media := &mediaSession{
		capture:    capture,
		stream:     stream,
		chunker:    audio.NewChunker(audioCfg.SampleRate, audioCfg.Channels, cfg.FrameDuration),
		gen:        s.streamGen,
		stopping:   make(chan struct{}),
		audioDone:  make(chan struct{}),
		eventsDone: make(chan struct{}),
	}
	s.media = media

	go s.consumeTranscriptionEvents(media)
	go pumpAudioFrames(capture, stream, media.chunker, s.session.ID, s.ctrl.deps.Events, s.logger, media.stopping, media.audioDone)
	return nil
}

// closeMedia stops capture and closes the stream. Events still in flight
// carry the old generation and are dropped by handleTranscript.
func (s *liveSession) closeMedia() {
	media := s.media
	if media == nil {
		return
	}
	s.media = nil
	s.streamGen++
	close(media.stopping)

	if err := media.capture.Stop(); err != nil {
		s.logger.Warn("failed to stop audio capture cleanly", zap.Error(err))
		s.ctrl.deps.Events.SessionError(s.session.ID, domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
	}
	_ = media.stream.CloseSend()
	if err := media.stream.Close(); err != nil {
		s.logger.Debug("transcription stream close", zap.Error(err))
	}
}

// consumeTranscriptionEvents forwards one stream's events to the actor in
// order, then reports how the stream ended.
func (s *liveSession) consumeTranscriptionEvents(media *mediaSession) {
	defer close(media.eventsDone)

	for event := range media.stream.Events() {
		event := event
		if !s.post(func() { s.handleTranscript(media.gen, event) }) {
			return
		}
	}
	err := media.stream.Wait()
	s.post(func() { s.handleStreamClosed(media.gen, err) })
}

func (s *liveSession) handleTranscript(gen int, event domain.TranscriptEvent) {
	if gen != s.streamGen || s.session.Status != domain.SessionStatusActive {
		return
	}
	event.Text = strings.TrimSpace(event.Text)
	if event.Text == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if event.ID != "" {
		// provider ids restart with every stream
		event.ID = fmt.Sprintf("%d-%s", gen, event.ID)
	}

	events := s.ctrl.deps.Events
	if !event.IsFinal {
		s.transcript.ApplyPartial(event)
		events.PartialTranscript(s.session.ID, event)
		return
	}

	final := s.transcript.ApplyFinal(event)
	if err := s.ctrl.deps.Gateway.InsertTranscript(s.ctx, s.session.ID, final); err != nil {
		s.reportPersistence("transcript.insert", err)
	}
	events.FinalTranscript(s.session.ID, final)

	now := s.now()
	s.watchdog.Touch(now)
	s.armSilence()

	decision := s.evaluator.Evaluate(final, now)
	s.reportDecision(decision)

	s.terminology.Append(final.Text)
	s.live.HandleTranscript(final, decision, s.evaluator.Window())
}

func (s *liveSession) handleStreamClosed(gen int, err error) {
	if gen != s.streamGen || s.session.Status != domain.SessionStatusActive {
		return
	}
	if err == nil {
		s.logger.Info("transcription stream closed by provider")
		return
	}
	streamErr := &domain.StreamError{Provider: "transcription", Err: err}
	s.logger.Warn("transcription stream failed", zap.Error(streamErr))
	s.ctrl.deps.Events.SessionError(s.session.ID, domain.ErrorCodeTranscription, streamErr.Error())
}

func (s *liveSession) reportDecision(decision rules.Decision) {
	if decision.Throttled {
		s.logger.Debug("trigger throttled", zap.String("trigger", string(decision.Matched)))
		return
	}
	if decision.Fired() {
		s.logger.Info("trigger fired", zap.String("trigger", string(decision.Trigger.Type)))
		s.ctrl.deps.Events.TriggerFired(s.session.ID, decision.Trigger)
	}
}

func (s *liveSession) armSilence() {
	s.cancelSilence()
	gen := s.silenceGen
	s.silenceTimer = time.AfterFunc(s.ctrl.cfg.SilenceAfter, func() {
		s.post(func() { s.handleSilence(gen) })
	})
}

func (s *liveSession) cancelSilence() {
	s.silenceGen++
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
}

func (s *liveSession) handleSilence(gen int) {
	if gen != s.silenceGen || s.session.Status != domain.SessionStatusActive {
		return
	}
	decision := s.evaluator.Silence(s.now())
	s.reportDecision(decision)
	if decision.Fired() {
		s.live.HandleTrigger(decision.Trigger, s.evaluator.Window())
	}
}

func (s *liveSession) startTickers() {
	stop := make(chan struct{})
	s.stopTickers = func() { close(stop) }

	watchdogEvery := s.watchdog.cfg.Interval
	contextEvery := s.ctrl.cfg.ContextPushInterval
	go func() {
		wd := time.NewTicker(watchdogEvery)
		defer wd.Stop()
		push := time.NewTicker(contextEvery)
		defer push.Stop()

		for {
			select {
			case <-wd.C:
				s.post(s.handleWatchdogTick)
			case <-push.C:
				s.post(s.handleContextTick)
			case <-stop:
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

func (s *liveSession) handleWatchdogTick() {
	if s.session.Status != domain.SessionStatusActive {
		return
	}
	verdict := s.watchdog.Check(s.now())
	if verdict.Warn {
		s.logger.Warn("session nearing duration limit", zap.Duration("elapsed", verdict.Elapsed))
		s.ctrl.deps.Events.DurationWarning(s.session.ID, verdict.Elapsed)
	}

	switch {
	case verdict.Limit:
		_ = s.end(s.ctx, domain.EndReasonDurationLimit)
	case verdict.Idle:
		_ = s.end(s.ctx, domain.EndReasonIdleTimeout)
	}
}

func (s *liveSession) handleContextTick() {
	if s.session.Status != domain.SessionStatusActive {
		return
	}
	s.live.PushExplainedTerms()
}

func (s *liveSession) reportPersistence(op string, err error) {
	persistErr := &domain.PersistenceError{Op: op, Err: err}
	s.logger.Error("persistence failed", zap.Error(persistErr))
	s.ctrl.deps.Events.SessionError(s.session.ID, domain.ErrorCodePersistence, persistErr.Error())
}
