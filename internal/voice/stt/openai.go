package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const (
	openAIBaseURL      = "https://api.openai.com/v1"
	openAITranscribe   = "/audio/transcriptions"
	openAIDefaultModel = "whisper-1"
	defaultTimeout     = 60 * time.Second
)

// OpenAI transcribes with the Whisper endpoint of the OpenAI audio API
type OpenAI struct {
	apiKey   string
	baseURL  string
	model    string
	language string
	client   *http.Client
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

// WithLanguage sets an ISO-639-1 language hint
func WithLanguage(lang string) Option {
	return func(o *OpenAI) { o.language = lang }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *OpenAI) { o.client = c }
}

func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	o := &OpenAI{
		apiKey:  apiKey,
		baseURL: openAIBaseURL,
		model:   openAIDefaultModel,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Transcribe implements Service
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", fileName(mimeType))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := w.WriteField("model", o.model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if o.language != "" {
		if err := w.WriteField("language", o.language); err != nil {
			return "", fmt.Errorf("write language field: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+openAITranscribe, &buf)
	if err != nil {
		return "", fmt.Errorf("create transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &TranscriptionError{Provider: "openai", Message: "request failed", Cause: err, Retryable: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read transcription response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp.StatusCode, body)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse transcription response: %w", err)
	}
	return result.Text, nil
}

// fileName picks an upload name whose extension matches the container;
// the API sniffs the format from it.
func fileName(mimeType string) string {
	switch mimeType {
	case "audio/webm":
		return "answer.webm"
	case "audio/mpeg":
		return "answer.mp3"
	case "audio/ogg":
		return "answer.ogg"
	default:
		return "answer.wav"
	}
}

func apiError(status int, body []byte) error {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := string(body)
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		msg = payload.Error.Message
	}

	var cause error
	switch status {
	case http.StatusTooManyRequests:
		cause = ErrRateLimited
	case http.StatusUnauthorized:
		cause = ErrAuth
	}

	return &TranscriptionError{
		Provider:  "openai",
		Status:    status,
		Message:   msg,
		Cause:     cause,
		Retryable: status == http.StatusTooManyRequests || status >= http.StatusInternalServerError,
	}
}
