package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"voicesurvey/internal/cache"
	"voicesurvey/internal/metrics"
	"voicesurvey/internal/model"
	"voicesurvey/internal/repository"
)

var (
	ErrSurveyNotFound   = errors.New("survey not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrNotEnrolled      = errors.New("respondent not enrolled in survey")
	ErrEmptyAnswer      = errors.New("answer is empty")
)

// SurveyService handles respondent enrollment and answer persistence
type SurveyService struct {
	surveyRepo   repository.SurveyRepo
	responseRepo repository.ResponseRepo
	sessions     cache.SessionCache
	auth         *AuthService
	matcher      *Matcher
	broadcaster  Broadcaster
	analytics    cache.AnalyticsCache
}

// NewSurveyService creates a new survey service
func NewSurveyService(
	surveyRepo repository.SurveyRepo,
	responseRepo repository.ResponseRepo,
	sessions cache.SessionCache,
	auth *AuthService,
	matcher *Matcher,
) *SurveyService {
	return &SurveyService{
		surveyRepo:   surveyRepo,
		responseRepo: responseRepo,
		sessions:     sessions,
		auth:         auth,
		matcher:      matcher,
	}
}

// SetBroadcaster sets the broadcaster for WebSocket events
func (s *SurveyService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// SetAnalytics enables live answer tallies; without it AnswerStats reads
// the stored responses
func (s *SurveyService) SetAnalytics(a cache.AnalyticsCache) {
	s.analytics = a
}

func (s *SurveyService) broadcast(surveyID, msgType string, payload interface{}) {
	if s.broadcaster != nil {
		s.broadcaster.BroadcastToHost(surveyID, msgType, payload)
	}
}

// GetByID retrieves a survey by ID
func (s *SurveyService) GetByID(ctx context.Context, id string) (*model.Survey, error) {
	survey, err := s.surveyRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load survey: %w", err)
	}
	if survey == nil {
		return nil, ErrSurveyNotFound
	}
	return survey, nil
}

// Enroll starts a new response for a survey and issues the respondent token
func (s *SurveyService) Enroll(ctx context.Context, surveyID string) (*model.EnrollResponse, error) {
	survey, err := s.GetByID(ctx, surveyID)
	if err != nil {
		return nil, err
	}

	respondentID := uuid.New().String()
	if _, err := s.responseRepo.Create(ctx, &model.Response{
		SurveyID:     surveyID,
		RespondentID: respondentID,
	}); err != nil {
		return nil, fmt.Errorf("failed to create response: %w", err)
	}

	token, err := s.auth.GenerateRespondentToken(surveyID, respondentID)
	if err != nil {
		return nil, err
	}

	log.Printf("Respondent %s enrolled in survey %s", respondentID, surveyID)
	s.broadcast(surveyID, EventRespondentJoined, map[string]string{"respondentId": respondentID})

	return &model.EnrollResponse{
		RespondentID: respondentID,
		Token:        token,
		SurveyID:     surveyID,
		Title:        survey.Title,
	}, nil
}

// Questions returns the survey's questions with the respondent's stored
// answers filled in
func (s *SurveyService) Questions(ctx context.Context, surveyID, respondentID string) ([]model.Question, error) {
	survey, err := s.GetByID(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	resp, err := s.response(ctx, surveyID, respondentID)
	if err != nil {
		return nil, err
	}

	questions := model.CloneQuestions(survey.Questions)
	for i := range questions {
		if rec, ok := resp.Answers[questions[i].ID]; ok {
			questions[i].RawAnswer = rec.Raw
			questions[i].CanonicalAnswer = rec.Canonical
		}
	}
	return questions, nil
}

// SubmitAnswer maps q.RawAnswer to its canonical value and stores both.
// The stored question definition is authoritative; only ID and RawAnswer
// are read from q.
func (s *SurveyService) SubmitAnswer(ctx context.Context, surveyID, respondentID string, q model.Question) (*model.SubmitAnswerResponse, error) {
	raw := strings.TrimSpace(q.RawAnswer)
	if raw == "" {
		return nil, ErrEmptyAnswer
	}

	survey, err := s.GetByID(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	stored, ok := survey.Question(q.ID)
	if !ok {
		return nil, ErrQuestionNotFound
	}

	canonical := s.matcher.Canonical(ctx, *stored, raw)
	rec := model.AnswerRecord{
		Raw:        raw,
		Canonical:  canonical,
		AnsweredAt: time.Now(),
	}
	if err := s.responseRepo.SaveAnswer(ctx, surveyID, respondentID, stored.ID, rec); err != nil {
		if errors.Is(err, repository.ErrResponseNotFound) {
			return nil, ErrNotEnrolled
		}
		return nil, fmt.Errorf("failed to save answer: %w", err)
	}

	metrics.RecordAnswer(string(stored.ResponseType), canonical != "")
	if s.analytics != nil && stored.ResponseType != model.ResponseOpen {
		if err := s.analytics.RecordAnswer(ctx, surveyID, stored.ID, respondentID, canonical); err != nil {
			log.Printf("Survey %s: tally update for %s failed: %v", surveyID, stored.ID, err)
		}
	}
	s.broadcast(surveyID, EventAnswerSubmitted, map[string]string{
		"respondentId":    respondentID,
		"questionId":      stored.ID,
		"canonicalAnswer": canonical,
	})

	return &model.SubmitAnswerResponse{
		QuestionID:      stored.ID,
		CanonicalAnswer: canonical,
	}, nil
}

// MarkCompleted closes the respondent's response
func (s *SurveyService) MarkCompleted(ctx context.Context, surveyID, respondentID string) error {
	if err := s.responseRepo.MarkCompleted(ctx, surveyID, respondentID, time.Now()); err != nil {
		if errors.Is(err, repository.ErrResponseNotFound) {
			return ErrNotEnrolled
		}
		return fmt.Errorf("failed to complete response: %w", err)
	}

	metrics.RecordCompletion()
	log.Printf("Respondent %s completed survey %s", respondentID, surveyID)
	s.broadcast(surveyID, EventRespondentCompleted, map[string]string{"respondentId": respondentID})
	return nil
}

// RecordDuration stores how long the respondent spent on the survey
func (s *SurveyService) RecordDuration(ctx context.Context, surveyID, respondentID string, seconds int) error {
	if seconds < 0 {
		return fmt.Errorf("invalid duration: %d", seconds)
	}
	if err := s.responseRepo.SetDuration(ctx, surveyID, respondentID, seconds); err != nil {
		if errors.Is(err, repository.ErrResponseNotFound) {
			return ErrNotEnrolled
		}
		return err
	}
	return nil
}

// Responses lists every response of a survey
func (s *SurveyService) Responses(ctx context.Context, surveyID string) ([]*model.Response, error) {
	if _, err := s.GetByID(ctx, surveyID); err != nil {
		return nil, err
	}
	return s.responseRepo.ListBySurvey(ctx, surveyID)
}

// AnswerStats counts canonical answers per closed question (scale and
// categorical), one per respondent. Unmatched answers are counted under "".
// Questions missing from the tally cache are counted from the stored
// responses and written back to the cache.
func (s *SurveyService) AnswerStats(ctx context.Context, surveyID string) (map[string]map[string]int, error) {
	survey, err := s.GetByID(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	var closed []string
	for _, q := range survey.Questions {
		if q.ResponseType != model.ResponseOpen {
			closed = append(closed, q.ID)
		}
	}

	stats := make(map[string]map[string]int)
	missing := closed
	if s.analytics != nil {
		cached, err := s.analytics.SurveyTally(ctx, surveyID, closed)
		if err != nil {
			log.Printf("Survey %s: tally read failed, counting stored responses: %v", surveyID, err)
		} else {
			stats = cached
			missing = nil
			for _, id := range closed {
				if _, ok := cached[id]; !ok {
					missing = append(missing, id)
				}
			}
		}
	}
	if len(missing) == 0 {
		return stats, nil
	}

	responses, err := s.responseRepo.ListBySurvey(ctx, surveyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list responses: %w", err)
	}
	for _, id := range missing {
		byRespondent := make(map[string]string)
		for _, resp := range responses {
			if rec, ok := resp.Answers[id]; ok {
				byRespondent[resp.RespondentID] = rec.Canonical
			}
		}
		if len(byRespondent) == 0 {
			continue
		}

		counts := make(map[string]int)
		for _, canonical := range byRespondent {
			counts[canonical]++
		}
		stats[id] = counts

		if s.analytics != nil {
			if err := s.analytics.Backfill(ctx, surveyID, id, byRespondent); err != nil {
				log.Printf("Survey %s: tally backfill for %s failed: %v", surveyID, id, err)
			}
		}
	}
	return stats, nil
}

// UpdateSession publishes a live voice-session snapshot
func (s *SurveyService) UpdateSession(ctx context.Context, session *model.VoiceSession) {
	session.UpdatedAt = time.Now()
	if err := s.sessions.Set(ctx, session); err != nil {
		log.Printf("Session %s/%s: cache update failed: %v", session.SurveyID, session.RespondentID, err)
	}
	s.broadcast(session.SurveyID, EventSessionUpdate, session)
}

// EndSession drops a live voice session
func (s *SurveyService) EndSession(ctx context.Context, surveyID, respondentID string) {
	if err := s.sessions.Delete(ctx, surveyID, respondentID); err != nil {
		log.Printf("Session %s/%s: cache delete failed: %v", surveyID, respondentID, err)
	}
}

// LiveSessions lists the voice sessions currently running for a survey
func (s *SurveyService) LiveSessions(ctx context.Context, surveyID string) ([]*model.VoiceSession, error) {
	return s.sessions.List(ctx, surveyID)
}

func (s *SurveyService) response(ctx context.Context, surveyID, respondentID string) (*model.Response, error) {
	resp, err := s.responseRepo.Get(ctx, surveyID, respondentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load response: %w", err)
	}
	if resp == nil {
		return nil, ErrNotEnrolled
	}
	return resp, nil
}
