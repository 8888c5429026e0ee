// Package tts turns prompt text into playable audio.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"voicesurvey/internal/voice/audio"
)

var (
	ErrEmptyText   = errors.New("tts: text cannot be empty")
	ErrRateLimited = errors.New("tts: rate limit exceeded")
	ErrBadRequest  = errors.New("tts: bad request")
	ErrAuth        = errors.New("tts: invalid API key")
)

// Service synthesizes speech. The returned stream must be closed by the caller.
type Service interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, audio.Format, error)
}

// SynthesisError carries a provider failure
type SynthesisError struct {
	Provider  string
	Status    int
	Message   string
	Cause     error
	Retryable bool
}

func (e *SynthesisError) Error() string {
	msg := fmt.Sprintf("%s tts (status %d): %s", e.Provider, e.Status, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SynthesisError) Unwrap() error {
	return e.Cause
}

// Silent produces empty PCM, used when no provider is configured so prompts
// still flow through the speech queue.
type Silent struct{}

func (Silent) Synthesize(ctx context.Context, text string) (io.ReadCloser, audio.Format, error) {
	if text == "" {
		return nil, audio.Format{}, ErrEmptyText
	}
	return io.NopCloser(bytes.NewReader(nil)), audio.PCM16(openAISampleRate, 1), nil
}
