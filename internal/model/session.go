package model

import "time"

// VoiceSession is the live snapshot of a respondent's voice conversation,
// kept in Redis for the host dashboard
type VoiceSession struct {
	SurveyID          string    `json:"surveyId"`
	RespondentID      string    `json:"respondentId"`
	State             string    `json:"state"`
	CurrentQuestionID string    `json:"currentQuestionId,omitempty"`
	Answered          int       `json:"answered"`
	Remaining         int       `json:"remaining"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
