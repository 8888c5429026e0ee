package model

import (
	"time"

	"github.com/google/uuid"
)

// ItemKind classifies conversation log entries
type ItemKind string

const (
	ItemQuestion   ItemKind = "question"
	ItemAnswer     ItemKind = "answer"
	ItemSympathy   ItemKind = "sympathy"
	ItemSystem     ItemKind = "system"
	ItemError      ItemKind = "error"
	ItemCompletion ItemKind = "completion"
)

// ConversationItem is an immutable entry of the conversation history
type ConversationItem struct {
	ID         string    `json:"id"`
	Kind       ItemKind  `json:"kind"`
	QuestionID string    `json:"questionId,omitempty"`
	Text       string    `json:"text"`
	At         time.Time `json:"at"`
}

// NewConversationItem stamps a new log entry
func NewConversationItem(kind ItemKind, questionID, text string) ConversationItem {
	return ConversationItem{
		ID:         uuid.New().String(),
		Kind:       kind,
		QuestionID: questionID,
		Text:       text,
		At:         time.Now(),
	}
}
