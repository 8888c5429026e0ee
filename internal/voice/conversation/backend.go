package conversation

import (
	"context"

	"voicesurvey/internal/model"
	"voicesurvey/internal/voice/capture"
)

// Backend is everything the conversation needs from the survey platform.
// Implementations must honor ctx cancellation.
type Backend interface {
	FetchQuestions(ctx context.Context, surveyID string) ([]model.Question, error)
	Transcribe(ctx context.Context, clip *capture.Blob) (string, error)
	// Sympathy returns a short acknowledgment of the answer. Failures are
	// not fatal to the conversation.
	Sympathy(ctx context.Context, questionText, answer string) (string, error)
	// SubmitAnswer stores q.RawAnswer and returns the canonical answer
	SubmitAnswer(ctx context.Context, surveyID string, q model.Question) (string, error)
	MarkCompleted(ctx context.Context, surveyID string) error
	RecordDuration(ctx context.Context, surveyID string, seconds int) error
}

// Speaker is the speech output the conversation talks through
type Speaker interface {
	Enqueue(text string, onComplete func())
	Speak(ctx context.Context, text string) error
	IsProcessingQueue() bool
	Cancel()
}

// Recorder captures one answer at a time
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (*capture.Blob, error)
	Abort()
}
