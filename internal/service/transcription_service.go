package service

import (
	"context"
	"strings"

	"voicesurvey/internal/voice/stt"
)

// TranscriptionService turns uploaded answer recordings into text
type TranscriptionService struct {
	stt stt.Service
}

// NewTranscriptionService creates a new transcription service. A nil
// provider fails every call with stt.ErrUnavailable.
func NewTranscriptionService(provider stt.Service) *TranscriptionService {
	if provider == nil {
		provider = stt.Unavailable{}
	}
	return &TranscriptionService{stt: provider}
}

// Transcribe returns the trimmed transcript of a clip
func (s *TranscriptionService) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", stt.ErrEmptyAudio
	}
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	text, err := s.stt.Transcribe(ctx, audio, mimeType)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
