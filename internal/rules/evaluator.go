package rules

import (
	"time"

	"livemeet/internal/domain"
)

const (
	DefaultMinInterval = 120 * time.Second
	DefaultLongSpeech  = 30 * time.Second
	DefaultWindowSize  = 20
)

// EvaluatorConfig tunes the per-session trigger state.
type EvaluatorConfig struct {
	MinInterval time.Duration
	LongSpeech  time.Duration
	WindowSize  int
}

// Decision is the outcome of evaluating one transcript or silence timeout.
// Matched is the rule that won; Trigger.Type is TriggerNone when nothing
// matched or the throttle dropped the match.
type Decision struct {
	Matched   domain.TriggerType
	Trigger   domain.TriggerEvent
	Throttled bool
}

func (d Decision) Fired() bool {
	return d.Trigger.Type != domain.TriggerNone && d.Trigger.Type != ""
}

// Evaluator holds one session's trigger state. It is not safe for concurrent
// use; the owning session serializes calls.
type Evaluator struct {
	engine *Engine
	cfg    EvaluatorConfig

	window []domain.TranscriptEvent

	lastFired time.Time
	armed     bool

	speaker      string
	speakerSince time.Time
	tracking     bool

	last    domain.TranscriptEvent
	hasLast bool
}

func NewEvaluator(engine *Engine, cfg EvaluatorConfig) *Evaluator {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.LongSpeech <= 0 {
		cfg.LongSpeech = DefaultLongSpeech
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	return &Evaluator{engine: engine, cfg: cfg}
}

// Evaluate classifies a final transcript. The event joins the context window
// after evaluation.
func (e *Evaluator) Evaluate(event domain.TranscriptEvent, now time.Time) Decision {
	longSpeech := e.trackSpeaker(event)

	matched := e.engine.Match(event.Text)
	if matched == domain.TriggerNone && longSpeech {
		matched = domain.TriggerLongSpeech
	}

	decision := e.decide(matched, event, now)

	e.last = event
	e.hasLast = true
	e.window = append(e.window, event)
	if len(e.window) > e.cfg.WindowSize {
		e.window = append([]domain.TranscriptEvent(nil), e.window[len(e.window)-e.cfg.WindowSize:]...)
	}
	return decision
}

// Silence evaluates the silence timeout against the last final transcript.
func (e *Evaluator) Silence(now time.Time) Decision {
	if !e.hasLast {
		return Decision{Matched: domain.TriggerNone, Trigger: domain.TriggerEvent{Type: domain.TriggerNone}}
	}
	return e.decide(domain.TriggerSilence, e.last, now)
}

// Window returns the prior final transcripts, oldest first.
func (e *Evaluator) Window() []domain.TranscriptEvent {
	return append([]domain.TranscriptEvent(nil), e.window...)
}

// Reset forgets speaker tracking, throttle and context.
func (e *Evaluator) Reset() {
	e.window = nil
	e.armed = false
	e.lastFired = time.Time{}
	e.tracking = false
	e.speaker = ""
	e.speakerSince = time.Time{}
	e.hasLast = false
	e.last = domain.TranscriptEvent{}
}

func (e *Evaluator) trackSpeaker(event domain.TranscriptEvent) bool {
	if !e.tracking || event.Speaker != e.speaker {
		e.tracking = true
		e.speaker = event.Speaker
		e.speakerSince = event.Timestamp
		return false
	}
	return event.Timestamp.Sub(e.speakerSince) >= e.cfg.LongSpeech
}

func (e *Evaluator) decide(matched domain.TriggerType, source domain.TranscriptEvent, now time.Time) Decision {
	decision := Decision{Matched: matched, Trigger: domain.TriggerEvent{Type: domain.TriggerNone, Source: source}}
	if matched == domain.TriggerNone {
		return decision
	}

	if matched != domain.TriggerStop {
		if e.armed && now.Sub(e.lastFired) < e.cfg.MinInterval {
			decision.Throttled = true
			return decision
		}
		e.armed = true
		e.lastFired = now
	}

	// any fire restarts the monologue clock
	e.speakerSince = source.Timestamp

	decision.Trigger = domain.TriggerEvent{Type: matched, Source: source, FiredAt: now}
	return decision
}
