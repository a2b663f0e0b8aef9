package ws

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSubmitAnswer Action = "submit_answer"
	ActionReconnect    Action = "reconnect_session"
	ActionHeartbeat    Action = "heartbeat"

	// Controller-only actions.
	ActionStartSession Action = "start_session"
	ActionEndQuestion  Action = "end_question"
	ActionNextQuestion Action = "next_question"
	ActionPause        Action = "pause_session"
	ActionResume       Action = "resume_session"
	ActionEndSession   Action = "end_session"
	ActionKick         Action = "kick_participant"
	ActionBan          Action = "ban_participant"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// SubmitAnswerRequest carries one answer submission.
type SubmitAnswerRequest struct {
	QuestionID        string   `json:"questionId"`
	SelectedOptionIDs []string `json:"selectedOptionIds"`
	ClientTimestampMs int64    `json:"clientTimestampMs"`
}

// ReconnectRequest resumes a participant's session over a fresh socket.
type ReconnectRequest struct {
	SessionToken        string `json:"sessionToken"`
	LastKnownQuestionID string `json:"lastKnownQuestionId,omitempty"`
}

// TargetParticipantRequest is the payload for kick and ban.
type TargetParticipantRequest struct {
	ParticipantID string `json:"participantId"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventAuthenticated      Event = "authenticated"
	EventSessionStarted     Event = "session_started"
	EventQuestionStarted    Event = "question_started"
	EventTimerTick          Event = "timer_tick"
	EventAnswerAccepted     Event = "answer_accepted"
	EventAnswerRejected     Event = "answer_rejected"
	EventAnswerRevealed     Event = "answer_revealed"
	EventLeaderboardUpdated Event = "leaderboard_updated"
	EventScoringFailed      Event = "scoring_failed"
	EventSessionPaused      Event = "session_paused"
	EventSessionResumed     Event = "session_resumed"
	EventSessionEnded       Event = "session_ended"
	EventSessionRecovered   Event = "session_recovered"
	EventRecoveryFailed     Event = "recovery_failed"
	EventParticipantJoined  Event = "participant_joined"
	EventParticipantLeft    Event = "participant_left"
	EventEliminated         Event = "eliminated"
	EventKicked             Event = "kicked"
	EventBanned             Event = "banned"
	EventHeartbeatAck       Event = "heartbeat_ack"
	EventRateLimitExceeded  Event = "rate_limit_exceeded"
	EventError              Event = "error"
)

// Envelope is the server-to-client frame. Payload shape depends on the
// event.
type Envelope struct {
	Event   Event `json:"event"`
	Payload any   `json:"payload,omitempty"`
}

// ErrorPayload mirrors the HTTP error body over the socket.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AnswerAcceptedPayload acknowledges a recorded answer before scoring.
type AnswerAcceptedPayload struct {
	AnswerID       int64  `json:"answerId"`
	QuestionID     string `json:"questionId"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
}

// RateLimitPayload tells a throttled client when to try again.
type RateLimitPayload struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	RetryAfterSec int    `json:"retryAfter"`
}

// AnswerRejectedPayload explains a refused submission.
type AnswerRejectedPayload struct {
	QuestionID string `json:"questionId"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// QuestionStartedPayload announces a new question. Options never carry
// correctness flags on this path.
type QuestionStartedPayload struct {
	QuestionIndex int    `json:"questionIndex"`
	Question      any    `json:"question"`
	TimeLimitSec  int    `json:"timeLimitSec"`
	StartedAtMs   int64  `json:"startedAtMs"`
	SessionState  string `json:"sessionState"`
}

// TimerTickPayload is broadcast once per second during a question.
type TimerTickPayload struct {
	QuestionID   string `json:"questionId"`
	RemainingSec int    `json:"remainingSec"`
}
