package service

// Event types pushed to host dashboards
const (
	EventRespondentJoined    = "respondent_joined"
	EventAnswerSubmitted     = "answer_submitted"
	EventRespondentCompleted = "respondent_completed"
	EventSessionUpdate       = "session_update"
)

// Broadcaster interface for WebSocket broadcasting (avoids import cycle)
type Broadcaster interface {
	BroadcastToHost(surveyID string, msgType string, payload interface{})
}
