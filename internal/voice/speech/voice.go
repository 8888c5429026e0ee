package speech

import (
	"context"
	"fmt"
	"io"

	"voicesurvey/internal/voice/audio"
	"voicesurvey/internal/voice/tts"
)

// Player renders synthesized audio and returns once it has been heard
type Player interface {
	Play(ctx context.Context, r io.Reader, format audio.Format) error
}

// Voice is a Synthesizer backed by a TTS provider and an output device
type Voice struct {
	TTS    tts.Service
	Player Player
}

func (v *Voice) Say(ctx context.Context, text string) error {
	if v == nil || v.TTS == nil || v.Player == nil {
		return ErrUnavailable
	}
	rc, format, err := v.TTS.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	defer rc.Close()

	if err := v.Player.Play(ctx, rc, format); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}
