package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"voicesurvey/internal/voice/audio"
)

const (
	openAIBaseURL      = "https://api.openai.com/v1"
	openAISpeechPath   = "/audio/speech"
	openAISampleRate   = 24000
	openAIDefaultModel = "tts-1"
	openAIDefaultVoice = "alloy"
	defaultTimeout     = 30 * time.Second
)

// OpenAI synthesizes speech with the OpenAI audio API. Output is requested as
// raw 24kHz mono PCM so players can stream it without decoding.
type OpenAI struct {
	apiKey  string
	baseURL string
	model   string
	voice   string
	speed   float64
	client  *http.Client
}

type Option func(*OpenAI)

func WithBaseURL(url string) Option {
	return func(o *OpenAI) { o.baseURL = url }
}

func WithModel(model string) Option {
	return func(o *OpenAI) {
		if model != "" {
			o.model = model
		}
	}
}

func WithVoice(voice string) Option {
	return func(o *OpenAI) {
		if voice != "" {
			o.voice = voice
		}
	}
}

func WithSpeed(speed float64) Option {
	return func(o *OpenAI) { o.speed = speed }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *OpenAI) { o.client = c }
}

func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	o := &OpenAI{
		apiKey:  apiKey,
		baseURL: openAIBaseURL,
		model:   openAIDefaultModel,
		voice:   openAIDefaultVoice,
		speed:   1.0,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize implements Service
func (o *OpenAI) Synthesize(ctx context.Context, text string) (io.ReadCloser, audio.Format, error) {
	if text == "" {
		return nil, audio.Format{}, ErrEmptyText
	}

	body, err := json.Marshal(speechRequest{
		Model:          o.model,
		Input:          text,
		Voice:          o.voice,
		ResponseFormat: "pcm",
		Speed:          o.speed,
	})
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("marshal speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+openAISpeechPath, bytes.NewReader(body))
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("create speech request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, audio.Format{}, &SynthesisError{Provider: "openai", Message: "request failed", Cause: err, Retryable: true}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, audio.Format{}, apiError(resp)
	}

	return resp.Body, audio.PCM16(openAISampleRate, 1), nil
}

func apiError(resp *http.Response) error {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	msg := http.StatusText(resp.StatusCode)
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error.Message != "" {
		msg = payload.Error.Message
	}

	var cause error
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		cause = ErrRateLimited
	case http.StatusUnauthorized:
		cause = ErrAuth
	case http.StatusBadRequest:
		cause = ErrBadRequest
	}

	return &SynthesisError{
		Provider:  "openai",
		Status:    resp.StatusCode,
		Message:   msg,
		Cause:     cause,
		Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError,
	}
}
