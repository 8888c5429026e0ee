// Package stt turns recorded answers into text.
package stt

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrEmptyAudio  = errors.New("stt: audio cannot be empty")
	ErrUnavailable = errors.New("stt: no transcription provider configured")
	ErrRateLimited = errors.New("stt: rate limit exceeded")
	ErrAuth        = errors.New("stt: invalid API key")
)

// Service transcribes a recorded clip. mimeType names the clip's container
// (audio/wav, audio/webm, ...).
type Service interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// TranscriptionError carries a provider failure
type TranscriptionError struct {
	Provider  string
	Status    int
	Message   string
	Cause     error
	Retryable bool
}

func (e *TranscriptionError) Error() string {
	msg := fmt.Sprintf("%s stt (status %d): %s", e.Provider, e.Status, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TranscriptionError) Unwrap() error {
	return e.Cause
}

// Unavailable fails every call. The conversation treats that as a retryable
// turn, so the flow still works end to end without a provider.
type Unavailable struct{}

func (Unavailable) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	return "", ErrUnavailable
}
