package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"voicesurvey/internal/service"
)

// maxAudioBytes matches the Whisper upload limit
const maxAudioBytes = 25 << 20

// VoiceHandler handles the speech helpers used by voice clients
type VoiceHandler struct {
	transcriber *service.TranscriptionService
	evaluator   *service.EvaluatorService
}

// NewVoiceHandler creates a new voice handler
func NewVoiceHandler(transcriber *service.TranscriptionService, evaluator *service.EvaluatorService) *VoiceHandler {
	return &VoiceHandler{
		transcriber: transcriber,
		evaluator:   evaluator,
	}
}

// Transcribe handles POST /v1/voice/transcribe. The clip is sent as the
// multipart file "audio", or as the raw body with its audio Content-Type.
func (h *VoiceHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)

	var (
		data     []byte
		mimeType string
		err      error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, ferr := r.FormFile("audio")
		if ferr != nil {
			writeError(w, http.StatusBadRequest, "missing audio file")
			return
		}
		defer file.Close()
		mimeType = header.Header.Get("Content-Type")
		data, err = io.ReadAll(file)
	} else {
		mimeType = r.Header.Get("Content-Type")
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read audio")
		return
	}

	text, err := h.transcriber.Transcribe(r.Context(), data, mimeType)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// SympathyRequest is the request body for an acknowledgment line
type SympathyRequest struct {
	QuestionText string `json:"questionText"`
	Answer       string `json:"answer"`
}

// Sympathy handles POST /v1/voice/sympathy
func (h *VoiceHandler) Sympathy(w http.ResponseWriter, r *http.Request) {
	var req SympathyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Answer) == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	line, err := h.evaluator.Sympathy(r.Context(), req.QuestionText, req.Answer)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": line})
}
