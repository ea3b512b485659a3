package ports

import (
	"context"
	"io"
	"time"

	"livemeet/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
	Diarize        bool
}

// StreamingSession is an active speech-to-text websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// ToolDeclaration advertises a callable function to the conversational provider.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// LiveSetup is the handshake sent when a conversational stream opens.
type LiveSetup struct {
	Model              string
	ResponseModalities []string
	SystemInstruction  string
	Tools              []ToolDeclaration
}

// LivePart is one piece of model output: text or inline media.
type LivePart struct {
	Text     string
	MIMEType string
	Data     []byte
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResponse answers a ToolCall.
type ToolResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// Usage is the provider's token accounting for a turn.
type Usage struct {
	PromptTokens   int
	ResponseTokens int
	TotalTokens    int
}

// LiveMessage is one decoded server message from the conversational stream.
type LiveMessage struct {
	SetupComplete      bool
	Parts              []LivePart
	TurnComplete       bool
	GenerationComplete bool
	Interrupted        bool
	ToolCalls          []ToolCall
	Usage              *Usage
}

// LiveConn is an open duplex conversation with the AI provider.
type LiveConn interface {
	SendTurn(ctx context.Context, role string, text string, turnComplete bool) error
	SendToolResponses(ctx context.Context, responses []ToolResponse) error
	Messages() <-chan LiveMessage
	Wait() error
	Close() error
}

// LiveProvider dials conversational streams. Connect returns once the setup
// message is written; acknowledgment arrives as a LiveMessage with SetupComplete.
type LiveProvider interface {
	Name() string
	Connect(ctx context.Context, setup LiveSetup) (LiveConn, error)
}

// TermExtractor asks a model for a JSON array of {term, description} items
// found in text, excluding the already explained terms. It returns the raw
// model output; parsing is the caller's concern.
type TermExtractor interface {
	ExtractTerms(ctx context.Context, text string, explained []string) (string, error)
}

// SessionGateway persists sessions, transcripts and assistant turns.
// Every call except StartSession is idempotent.
type SessionGateway interface {
	StartSession(ctx context.Context, session domain.Session) error
	PauseSession(ctx context.Context, sessionID string, at time.Time) error
	ResumeSession(ctx context.Context, sessionID string, at time.Time) error
	EndSession(ctx context.Context, sessionID string, reason domain.EndReason, at time.Time) error
	InsertTranscript(ctx context.Context, sessionID string, event domain.TranscriptEvent) error
	InsertAIMessage(ctx context.Context, record domain.AIResponseRecord) error
}

// SummaryRequester hands an ended session to downstream report generation.
type SummaryRequester interface {
	RequestSummary(ctx context.Context, session domain.Session, reason domain.EndReason) error
}

// AudioPlayback receives non-text model output.
type AudioPlayback interface {
	Play(mimeType string, data []byte)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(session domain.Session, reason domain.SessionStateReason)
	PartialTranscript(sessionID string, event domain.TranscriptEvent)
	FinalTranscript(sessionID string, event domain.TranscriptEvent)
	TriggerFired(sessionID string, trigger domain.TriggerEvent)
	AIResponseChunk(sessionID string, turnID string, buffer string)
	AIResponseCompleted(sessionID string, record domain.AIResponseRecord)
	TermCard(sessionID string, card domain.TermCard)
	DurationWarning(sessionID string, elapsed time.Duration)
	SessionError(sessionID string, code domain.ErrorCode, detail string)
}
