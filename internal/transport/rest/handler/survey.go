package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"voicesurvey/internal/model"
	"voicesurvey/internal/service"
	"voicesurvey/internal/transport/rest/middleware"
)

// SurveyHandler handles respondent and host survey endpoints
type SurveyHandler struct {
	surveySvc *service.SurveyService
}

// NewSurveyHandler creates a new survey handler
func NewSurveyHandler(surveySvc *service.SurveyService) *SurveyHandler {
	return &SurveyHandler{surveySvc: surveySvc}
}

// respondent returns the survey and respondent of the request, rejecting
// tokens issued for another survey
func (h *SurveyHandler) respondent(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	surveyID := mux.Vars(r)["surveyId"]
	if surveyID != middleware.GetSurveyID(r.Context()) {
		writeError(w, http.StatusForbidden, "token is not valid for this survey")
		return "", "", false
	}
	return surveyID, middleware.GetRespondentID(r.Context()), true
}

// Enroll handles POST /v1/surveys/{surveyId}/respondents
func (h *SurveyHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	resp, err := h.surveySvc.Enroll(r.Context(), mux.Vars(r)["surveyId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Questions handles GET /v1/surveys/{surveyId}/questions
func (h *SurveyHandler) Questions(w http.ResponseWriter, r *http.Request) {
	surveyID, respondentID, ok := h.respondent(w, r)
	if !ok {
		return
	}

	questions, err := h.surveySvc.Questions(r.Context(), surveyID, respondentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"questions": questions})
}

// SubmitAnswer handles POST /v1/surveys/{surveyId}/answers
func (h *SurveyHandler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	surveyID, respondentID, ok := h.respondent(w, r)
	if !ok {
		return
	}

	var q model.Question
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil || q.ID == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.surveySvc.SubmitAnswer(r.Context(), surveyID, respondentID, q)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Complete handles POST /v1/surveys/{surveyId}/complete
func (h *SurveyHandler) Complete(w http.ResponseWriter, r *http.Request) {
	surveyID, respondentID, ok := h.respondent(w, r)
	if !ok {
		return
	}

	if err := h.surveySvc.MarkCompleted(r.Context(), surveyID, respondentID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// DurationRequest is the request body for recording time spent
type DurationRequest struct {
	Seconds int `json:"seconds"`
}

// Duration handles POST /v1/surveys/{surveyId}/duration
func (h *SurveyHandler) Duration(w http.ResponseWriter, r *http.Request) {
	surveyID, respondentID, ok := h.respondent(w, r)
	if !ok {
		return
	}

	var req DurationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Seconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.surveySvc.RecordDuration(r.Context(), surveyID, respondentID, req.Seconds); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// Sessions handles GET /v1/surveys/{surveyId}/sessions (host)
func (h *SurveyHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.surveySvc.LiveSessions(r.Context(), mux.Vars(r)["surveyId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*model.VoiceSession{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// Responses handles GET /v1/surveys/{surveyId}/responses (host)
func (h *SurveyHandler) Responses(w http.ResponseWriter, r *http.Request) {
	responses, err := h.surveySvc.Responses(r.Context(), mux.Vars(r)["surveyId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if responses == nil {
		responses = []*model.Response{}
	}
	log.Printf("Host %s exported %d responses of survey %s", middleware.GetHostID(r.Context()), len(responses), mux.Vars(r)["surveyId"])
	writeJSON(w, http.StatusOK, map[string]interface{}{"responses": responses})
}

// Stats handles GET /v1/surveys/{surveyId}/stats (host)
func (h *SurveyHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.surveySvc.AnswerStats(r.Context(), mux.Vars(r)["surveyId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stats": stats})
}
