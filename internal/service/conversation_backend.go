package service

import (
	"context"

	"voicesurvey/internal/model"
	"voicesurvey/internal/voice/capture"
)

// ConversationBackend serves one respondent's voice conversation in-process
type ConversationBackend struct {
	surveys      *SurveyService
	evaluator    *EvaluatorService
	transcriber  *TranscriptionService
	respondentID string
}

// NewConversationBackend binds the services to a respondent
func NewConversationBackend(surveys *SurveyService, evaluator *EvaluatorService, transcriber *TranscriptionService, respondentID string) *ConversationBackend {
	return &ConversationBackend{
		surveys:      surveys,
		evaluator:    evaluator,
		transcriber:  transcriber,
		respondentID: respondentID,
	}
}

func (b *ConversationBackend) FetchQuestions(ctx context.Context, surveyID string) ([]model.Question, error) {
	return b.surveys.Questions(ctx, surveyID, b.respondentID)
}

func (b *ConversationBackend) Transcribe(ctx context.Context, clip *capture.Blob) (string, error) {
	if clip == nil {
		return b.transcriber.Transcribe(ctx, nil, "")
	}
	return b.transcriber.Transcribe(ctx, clip.Data, clip.MimeType)
}

func (b *ConversationBackend) Sympathy(ctx context.Context, questionText, answer string) (string, error) {
	return b.evaluator.Sympathy(ctx, questionText, answer)
}

func (b *ConversationBackend) SubmitAnswer(ctx context.Context, surveyID string, q model.Question) (string, error) {
	resp, err := b.surveys.SubmitAnswer(ctx, surveyID, b.respondentID, q)
	if err != nil {
		return "", err
	}
	return resp.CanonicalAnswer, nil
}

func (b *ConversationBackend) MarkCompleted(ctx context.Context, surveyID string) error {
	return b.surveys.MarkCompleted(ctx, surveyID, b.respondentID)
}

func (b *ConversationBackend) RecordDuration(ctx context.Context, surveyID string, seconds int) error {
	return b.surveys.RecordDuration(ctx, surveyID, b.respondentID, seconds)
}
