package model

import (
	"slices"
	"strings"
)

// ResponseType defines how a spoken answer is interpreted
type ResponseType string

const (
	ResponseScale       ResponseType = "scale"       // Integer rating up to ScaleMax
	ResponseCategorical ResponseType = "categorical" // One of Categories
	ResponseOpen        ResponseType = "open"        // Free text, no interpretation
)

// Autofill values
const (
	AutofillYes = "Yes"
	AutofillNo  = "No"
)

// Question is a survey question as seen by a respondent
type Question struct {
	ID                      string       `json:"id" bson:"id"`
	Text                    string       `json:"text" bson:"text"`
	ResponseType            ResponseType `json:"responseType" bson:"responseType"`
	ScaleMax                int          `json:"scaleMax,omitempty" bson:"scaleMax,omitempty"`     // scale only
	Categories              []string     `json:"categories,omitempty" bson:"categories,omitempty"` // categorical only
	ParentID                string       `json:"parentId,omitempty" bson:"parentId,omitempty"`
	ParentTriggerCategories []string     `json:"parentTriggerCategories,omitempty" bson:"parentTriggerCategories,omitempty"`
	Order                   int          `json:"order" bson:"order"`
	CanonicalAnswer         string       `json:"canonicalAnswer,omitempty" bson:"canonicalAnswer,omitempty"` // Set by answer persistence
	RawAnswer               string       `json:"rawAnswer,omitempty" bson:"rawAnswer,omitempty"`             // Processed transcript
	Autofill                string       `json:"autofill,omitempty" bson:"autofill,omitempty"`
}

// IsTopLevel reports whether the question has no parent
func (q *Question) IsTopLevel() bool {
	return q.ParentID == ""
}

// IsPreAnswered reports whether the question was autofilled with an answer
// and must stay out of the spoken flow.
func (q *Question) IsPreAnswered() bool {
	return q.Autofill == AutofillYes && q.CanonicalAnswer != ""
}

// Triggers reports whether a parent answer reveals this question
func (q *Question) Triggers(parentAnswer string) bool {
	return parentAnswer != "" && slices.Contains(q.ParentTriggerCategories, parentAnswer)
}

// CloneQuestions copies a question list so callers can replace it wholesale
// ValidQuestionID reports whether id can key a stored answer. Answers are
// kept in a document map, so ids must be non-empty, must not contain '.'
// and must not start with '$'.
func ValidQuestionID(id string) bool {
	return id != "" && !strings.Contains(id, ".") && !strings.HasPrefix(id, "$")
}

func CloneQuestions(qs []Question) []Question {
	out := make([]Question, len(qs))
	for i, q := range qs {
		q.Categories = slices.Clone(q.Categories)
		q.ParentTriggerCategories = slices.Clone(q.ParentTriggerCategories)
		out[i] = q
	}
	return out
}
