package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"livemeet/internal/domain"
	"livemeet/internal/ports"
	"livemeet/internal/rules"
	"livemeet/internal/terms"
)

const (
	DefaultLiveModel = "models/gemini-2.0-flash-live-001"

	explainedTermsTool = "list_explained_terms"
)

const defaultSystemInstruction = `You are a meeting assistant listening to a live conversation.
Speak only when addressed or when a trigger asks for help. Keep answers short and concrete.
Do not explain terms that are listed as already explained.`

// LiveConfig describes the conversational stream opened on a trigger.
type LiveConfig struct {
	Model             string
	SystemInstruction string
}

type connState int

const (
	connClosed connState = iota
	connConnecting
	connOpen
	connClosing
)

func (s connState) String() string {
	switch s {
	case connConnecting:
		return "connecting"
	case connOpen:
		return "open"
	case connClosing:
		return "closing"
	default:
		return "closed"
	}
}

// liveManager owns at most one conversational connection per session. It
// runs on the session actor; the dial and the read loop run in their own
// goroutines and post back. Every connection attempt bumps gen so that
// messages from a superseded connection are ignored.
type liveManager struct {
	provider  ports.LiveProvider
	playback  ports.AudioPlayback
	recorder  *responseRecorder
	explained *terms.ExplainedSet
	events    ports.EventSink
	logger    *zap.Logger
	post      func(func()) bool
	ctx       context.Context
	sessionID string
	mode      domain.AIMode
	cfg       LiveConfig

	state   connState
	gen     int
	conn    ports.LiveConn
	pending []string
	// deferred is the latest trigger seen while closing; it reconnects once
	// the close finishes.
	deferred *deferredTrigger
}

type deferredTrigger struct {
	trigger domain.TriggerEvent
	window  []domain.TranscriptEvent
}

func newLiveManager(
	ctx context.Context,
	session domain.Session,
	provider ports.LiveProvider,
	playback ports.AudioPlayback,
	recorder *responseRecorder,
	explained *terms.ExplainedSet,
	events ports.EventSink,
	post func(func()) bool,
	cfg LiveConfig,
	logger *zap.Logger,
) *liveManager {
	if cfg.Model == "" {
		cfg.Model = DefaultLiveModel
	}
	if cfg.SystemInstruction == "" {
		cfg.SystemInstruction = defaultSystemInstruction
	}
	return &liveManager{
		provider:  provider,
		playback:  playback,
		recorder:  recorder,
		explained: explained,
		events:    events,
		logger:    logger,
		post:      post,
		ctx:       ctx,
		sessionID: session.ID,
		mode:      session.AIMode,
		cfg:       cfg,
	}
}

func (m *liveManager) enabled() bool {
	return m.provider != nil && m.mode != domain.AIModeOff
}

// HandleTranscript routes one final transcript and its trigger decision.
func (m *liveManager) HandleTranscript(event domain.TranscriptEvent, decision rules.Decision, window []domain.TranscriptEvent) {
	if !m.enabled() {
		return
	}

	if decision.Fired() && decision.Trigger.Type == domain.TriggerStop {
		m.beginClose("stop")
		return
	}

	switch m.state {
	case connOpen:
		m.send(formatLine(event), decision.Fired())
	case connConnecting:
		if decision.Fired() {
			m.pending = append(m.pending, triggerLine(decision.Trigger))
		} else {
			m.pending = append(m.pending, formatLine(event))
		}
	case connClosing:
		if decision.Fired() {
			m.deferTrigger(decision.Trigger, window)
		}
	case connClosed:
		if decision.Fired() {
			m.connect(decision.Trigger, window)
		}
	}
}

// HandleTrigger reacts to a trigger that did not come with a new transcript,
// such as silence.
func (m *liveManager) HandleTrigger(trigger domain.TriggerEvent, window []domain.TranscriptEvent) {
	if !m.enabled() {
		return
	}
	switch m.state {
	case connOpen:
		m.send(triggerLine(trigger), true)
	case connConnecting:
		m.pending = append(m.pending, triggerLine(trigger))
	case connClosing:
		m.deferTrigger(trigger, window)
	case connClosed:
		m.connect(trigger, window)
	}
}

// PushExplainedTerms reminds an open conversation which terms were covered.
func (m *liveManager) PushExplainedTerms() {
	if m.state != connOpen || m.explained.Len() == 0 {
		return
	}
	m.send("Already explained terms, do not explain them again: "+strings.Join(m.explained.List(), ", "), false)
}

// Disconnect flushes the current turn and closes the connection before
// returning. Late messages from it are dropped. Pause and end use it so that
// nothing of the connection outlives the transition.
func (m *liveManager) Disconnect(reason string) {
	m.flush()
	m.gen++
	m.deferred = nil

	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logger.Debug("live connection close", zap.Error(err))
		}
		m.logger.Info("live connection closed", zap.String("reason", reason), zap.Stringer("from", m.state))
	}
	m.conn = nil
	m.pending = nil
	m.state = connClosed
}

// beginClose flushes the current turn and closes the connection off the
// actor. The manager stays closing until the close returns; triggers seen in
// the meantime reconnect afterwards.
func (m *liveManager) beginClose(reason string) {
	m.flush()
	m.gen++
	m.pending = nil

	conn := m.conn
	m.conn = nil
	if conn == nil {
		m.state = connClosed
		return
	}

	m.state = connClosing
	gen := m.gen
	go func() {
		if err := conn.Close(); err != nil {
			m.logger.Debug("live connection close", zap.Error(err))
		}
		m.post(func() { m.finishClose(gen, reason) })
	}()
}

func (m *liveManager) finishClose(gen int, reason string) {
	if gen != m.gen || m.state != connClosing {
		return
	}
	m.state = connClosed
	m.logger.Info("live connection closed", zap.String("reason", reason))

	if next := m.deferred; next != nil {
		m.deferred = nil
		m.connect(next.trigger, next.window)
	}
}

func (m *liveManager) deferTrigger(trigger domain.TriggerEvent, window []domain.TranscriptEvent) {
	m.logger.Debug("trigger deferred until the live connection closes", zap.String("trigger", string(trigger.Type)))
	m.deferred = &deferredTrigger{trigger: trigger, window: append([]domain.TranscriptEvent(nil), window...)}
}

// RetryPending writes assistant turns whose earlier write failed.
func (m *liveManager) RetryPending() {
	records, err := m.recorder.RetryPending(m.ctx)
	for _, record := range records {
		m.reportRecord(record, true, nil)
	}
	if err != nil {
		m.logger.Warn("assistant turn still not persisted", zap.Error(err))
	}
}

func (m *liveManager) connect(trigger domain.TriggerEvent, window []domain.TranscriptEvent) {
	m.gen++
	gen := m.gen
	m.state = connConnecting
	m.pending = []string{m.initialTurn(trigger, window)}

	m.logger.Info("opening live connection",
		zap.String("trigger", string(trigger.Type)),
		zap.String("provider", m.provider.Name()),
	)

	setup := m.setup()
	go func() {
		conn, err := m.provider.Connect(m.ctx, setup)
		if !m.post(func() { m.handleDialed(gen, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (m *liveManager) setup() ports.LiveSetup {
	modality := "TEXT"
	if m.mode == domain.AIModeAudio {
		modality = "AUDIO"
	}
	return ports.LiveSetup{
		Model:              m.cfg.Model,
		ResponseModalities: []string{modality},
		SystemInstruction:  m.cfg.SystemInstruction,
		Tools: []ports.ToolDeclaration{{
			Name:        explainedTermsTool,
			Description: "Lists the terms already explained to the participants in this meeting.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		}},
	}
}

func (m *liveManager) handleDialed(gen int, conn ports.LiveConn, err error) {
	if gen != m.gen || m.state != connConnecting {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.state = connClosed
		m.pending = nil
		m.logger.Warn("live connection setup failed", zap.Error(err))
		m.events.SessionError(m.sessionID, domain.ErrorCodeAISetup, err.Error())
		return
	}

	m.conn = conn
	go m.readLoop(gen, conn)
}

func (m *liveManager) readLoop(gen int, conn ports.LiveConn) {
	for msg := range conn.Messages() {
		msg := msg
		if !m.post(func() { m.handleMessage(gen, msg) }) {
			return
		}
	}
	err := conn.Wait()
	m.post(func() { m.handleClosed(gen, err) })
}

func (m *liveManager) handleMessage(gen int, msg ports.LiveMessage) {
	if gen != m.gen || m.conn == nil {
		return
	}

	if msg.SetupComplete && m.state == connConnecting {
		m.state = connOpen
		initial := strings.Join(m.pending, "\n")
		m.pending = nil
		m.send(initial, true)
	}

	for _, part := range msg.Parts {
		if part.Text != "" {
			turnID := m.recorder.AppendChunk(part.Text)
			m.events.AIResponseChunk(m.sessionID, turnID, m.recorder.Buffer())
		}
		if len(part.Data) > 0 && m.playback != nil {
			m.playback.Play(part.MIMEType, part.Data)
		}
	}

	if len(msg.ToolCalls) > 0 {
		m.answerToolCalls(msg.ToolCalls)
	}

	if msg.TurnComplete || msg.GenerationComplete || msg.Interrupted || msg.Usage != nil {
		m.complete()
	}
}

func (m *liveManager) handleClosed(gen int, err error) {
	if gen != m.gen {
		return
	}
	m.flush()
	m.gen++
	m.conn = nil
	m.pending = nil
	m.state = connClosed

	if err != nil {
		streamErr := &domain.StreamError{Provider: m.provider.Name(), Err: err}
		m.logger.Warn("live connection dropped", zap.Error(streamErr))
		m.events.SessionError(m.sessionID, domain.ErrorCodeAIStream, streamErr.Error())
		return
	}
	m.logger.Info("live connection closed by provider")
}

func (m *liveManager) answerToolCalls(calls []ports.ToolCall) {
	responses := make([]ports.ToolResponse, 0, len(calls))
	for _, call := range calls {
		response := ports.ToolResponse{ID: call.ID, Name: call.Name}
		switch call.Name {
		case explainedTermsTool:
			response.Response = map[string]any{"terms": m.explained.List()}
		default:
			response.Response = map[string]any{"error": fmt.Sprintf("unknown function %q", call.Name)}
		}
		responses = append(responses, response)
	}
	if err := m.conn.SendToolResponses(m.ctx, responses); err != nil {
		m.logger.Warn("failed to answer tool call", zap.Error(err))
	}
}

func (m *liveManager) send(text string, turnComplete bool) {
	if m.conn == nil || strings.TrimSpace(text) == "" {
		return
	}
	if err := m.conn.SendTurn(m.ctx, "user", text, turnComplete); err != nil {
		m.logger.Warn("failed to send live turn", zap.Error(err))
	}
}

func (m *liveManager) complete() {
	m.RetryPending()
	record, ok, err := m.recorder.CompleteTurn(m.ctx)
	m.reportRecord(record, ok, err)
}

func (m *liveManager) flush() {
	m.RetryPending()
	record, ok, err := m.recorder.Flush(m.ctx)
	m.reportRecord(record, ok, err)
}

func (m *liveManager) reportRecord(record domain.AIResponseRecord, ok bool, err error) {
	if err != nil {
		m.logger.Error("failed to persist assistant turn", zap.Error(err))
		m.events.SessionError(m.sessionID, domain.ErrorCodePersistence, err.Error())
		return
	}
	if ok {
		m.logger.Debug("assistant turn recorded", zap.String("turn_id", record.TurnID))
		m.events.AIResponseCompleted(m.sessionID, record)
	}
}

func (m *liveManager) initialTurn(trigger domain.TriggerEvent, window []domain.TranscriptEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Trigger: %s\n", trigger.Type)
	if n := len(window); n > 0 && window[n-1].ID == trigger.Source.ID {
		window = window[:n-1]
	}
	if len(window) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, event := range window {
			b.WriteString(formatLine(event))
			b.WriteByte('\n')
		}
	}
	if explained := m.explained.List(); len(explained) > 0 {
		fmt.Fprintf(&b, "Already explained terms: %s\n", strings.Join(explained, ", "))
	}
	if trigger.Source.Text != "" {
		fmt.Fprintf(&b, "Latest: %s", formatLine(trigger.Source))
	}
	return strings.TrimSpace(b.String())
}

func formatLine(event domain.TranscriptEvent) string {
	if event.Speaker == "" {
		return event.Text
	}
	return event.Speaker + ": " + event.Text
}

func triggerLine(trigger domain.TriggerEvent) string {
	if trigger.Source.Text == "" {
		return fmt.Sprintf("Trigger: %s", trigger.Type)
	}
	return fmt.Sprintf("Trigger: %s\n%s", trigger.Type, formatLine(trigger.Source))
}
