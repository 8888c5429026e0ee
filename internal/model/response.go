package model

import "time"

type ResponseStatus string

const (
	ResponseInProgress ResponseStatus = "in_progress"
	ResponseCompleted  ResponseStatus = "completed"
)

// AnswerRecord is one persisted answer
type AnswerRecord struct {
	Raw        string    `json:"raw" bson:"raw"`
	Canonical  string    `json:"canonical" bson:"canonical"`
	AnsweredAt time.Time `json:"answeredAt" bson:"answeredAt"`
}

// Response is one respondent's run through a survey
type Response struct {
	ID              string                  `json:"id" bson:"_id,omitempty"`
	SurveyID        string                  `json:"surveyId" bson:"surveyId"`
	RespondentID    string                  `json:"respondentId" bson:"respondentId"`
	Status          ResponseStatus          `json:"status" bson:"status"`
	Answers         map[string]AnswerRecord `json:"answers" bson:"answers"` // questionID -> answer
	StartedAt       time.Time               `json:"startedAt" bson:"startedAt"`
	CompletedAt     *time.Time              `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	DurationSeconds int                     `json:"durationSeconds,omitempty" bson:"durationSeconds,omitempty"`
}

// SubmitAnswerResponse is returned after an answer is persisted
type SubmitAnswerResponse struct {
	QuestionID      string `json:"questionId"`
	CanonicalAnswer string `json:"canonicalAnswer"`
}

// EnrollResponse is returned when a respondent starts a survey
type EnrollResponse struct {
	RespondentID string `json:"respondentId"`
	Token        string `json:"token"`
	SurveyID     string `json:"surveyId"`
	Title        string `json:"title"`
}
