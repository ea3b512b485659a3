package domain

import "time"

// SessionStatus models the live meeting lifecycle.
type SessionStatus string

const (
	SessionStatusIdle   SessionStatus = "idle"
	SessionStatusActive SessionStatus = "active"
	SessionStatusPaused SessionStatus = "paused"
	SessionStatusEnded  SessionStatus = "ended"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonStarted       SessionStateReason = "started"
	SessionReasonPaused        SessionStateReason = "paused"
	SessionReasonResumed       SessionStateReason = "resumed"
	SessionReasonEndedByUser   SessionStateReason = "ended_by_user"
	SessionReasonIdleTimeout   SessionStateReason = "idle_timeout"
	SessionReasonDurationLimit SessionStateReason = "duration_limit"
)

// EndReason records why a session ended.
type EndReason string

const (
	EndReasonUser          EndReason = "user"
	EndReasonIdleTimeout   EndReason = "idle_timeout"
	EndReasonDurationLimit EndReason = "duration_limit"
)

// StateReason maps an end reason onto the transition reason reported to observers.
func (r EndReason) StateReason() SessionStateReason {
	switch r {
	case EndReasonIdleTimeout:
		return SessionReasonIdleTimeout
	case EndReasonDurationLimit:
		return SessionReasonDurationLimit
	default:
		return SessionReasonEndedByUser
	}
}

// AIMode selects how the assistant participates in a session.
type AIMode string

const (
	AIModeOff   AIMode = "off"
	AIModeText  AIMode = "text"
	AIModeAudio AIMode = "audio"
)

// ParseAIMode returns the mode for a user supplied value, defaulting to text.
func ParseAIMode(value string) AIMode {
	switch AIMode(value) {
	case AIModeOff, AIModeAudio:
		return AIMode(value)
	default:
		return AIModeText
	}
}

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodeAudioStop     ErrorCode = "audio_stop"
	ErrorCodeAudioStream   ErrorCode = "audio_stream"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeAISetup       ErrorCode = "ai_setup"
	ErrorCodeAIStream      ErrorCode = "ai_stream"
	ErrorCodePersistence   ErrorCode = "persistence"
	ErrorCodeTerminology   ErrorCode = "terminology"
)

// Session is one live meeting run.
type Session struct {
	ID        string        `json:"id"`
	MeetingID string        `json:"meetingId"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   *time.Time    `json:"endedAt,omitempty"`
	AIMode    AIMode        `json:"aiMode"`
}

// Ended reports whether the session reached its terminal state.
func (s Session) Ended() bool {
	return s.Status == SessionStatusEnded
}

// TranscriptEvent represents incremental transcription output from a provider.
type TranscriptEvent struct {
	ID         string    `json:"id"`
	Speaker    string    `json:"speaker,omitempty"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	StartTime  *float64  `json:"startTime,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	IsFinal    bool      `json:"isFinal"`
}

// TriggerType names the reason an assistant turn was requested.
type TriggerType string

const (
	TriggerNone            TriggerType = "NONE"
	TriggerStop            TriggerType = "STOP"
	TriggerDirectCall      TriggerType = "DIRECT_CALL"
	TriggerSummaryRequest  TriggerType = "SUMMARY_REQUEST"
	TriggerResearchRequest TriggerType = "RESEARCH_REQUEST"
	TriggerQuestion        TriggerType = "QUESTION"
	TriggerLongSpeech      TriggerType = "LONG_SPEECH"
	TriggerSilence         TriggerType = "SILENCE"
)

// TriggerEvent is a fired rule match.
type TriggerEvent struct {
	Type    TriggerType     `json:"type"`
	Source  TranscriptEvent `json:"source"`
	FiredAt time.Time       `json:"firedAt"`
}

// TermCard explains one domain term heard in the meeting.
type TermCard struct {
	Key         string    `json:"key"`
	Term        string    `json:"term"`
	Description string    `json:"description"`
	FirstSeen   time.Time `json:"firstSeen"`
}

// AIResponseRecord is the persisted form of a completed assistant turn.
type AIResponseRecord struct {
	ID        string    `json:"id"`
	TurnID    string    `json:"turnId"`
	SessionID string    `json:"sessionId"`
	MeetingID string    `json:"meetingId"`
	Content   string    `json:"content"`
	Provider  string    `json:"provider"`
	Mode      AIMode    `json:"mode"`
	CreatedAt time.Time `json:"createdAt"`
}
