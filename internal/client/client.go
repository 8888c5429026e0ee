// Package client talks to the survey server's REST API on behalf of a
// voice respondent.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"voicesurvey/internal/model"
	"voicesurvey/internal/voice/capture"
)

const defaultTimeout = 60 * time.Second

var ErrNotEnrolled = errors.New("client: not enrolled, call Enroll first")

// APIError is a non-2xx server response
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client implements the conversation backend over HTTP
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithToken reuses an existing respondent token instead of enrolling
func WithToken(token string) Option {
	return func(cl *Client) { cl.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enroll registers a new respondent and keeps its token for later calls
func (c *Client) Enroll(ctx context.Context, surveyID string) (*model.EnrollResponse, error) {
	var resp model.EnrollResponse
	if err := c.doJSON(ctx, http.MethodPost, surveyPath(surveyID, "respondents"), nil, &resp, false); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

func (c *Client) FetchQuestions(ctx context.Context, surveyID string) ([]model.Question, error) {
	var resp struct {
		Questions []model.Question `json:"questions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, surveyPath(surveyID, "questions"), nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Questions, nil
}

func (c *Client) Transcribe(ctx context.Context, clip *capture.Blob) (string, error) {
	if c.token == "" {
		return "", ErrNotEnrolled
	}
	if clip == nil || len(clip.Data) == 0 {
		return "", errors.New("client: empty recording")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="audio"; filename="answer"`)
	header.Set("Content-Type", clip.MimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(clip.Data); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/voice/transcribe", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp struct {
		Text string `json:"text"`
	}
	if err := c.do(req, &resp, true); err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *Client) Sympathy(ctx context.Context, questionText, answer string) (string, error) {
	body := map[string]string{"questionText": questionText, "answer": answer}
	var resp struct {
		Text string `json:"text"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/voice/sympathy", body, &resp, true); err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *Client) SubmitAnswer(ctx context.Context, surveyID string, q model.Question) (string, error) {
	var resp model.SubmitAnswerResponse
	if err := c.doJSON(ctx, http.MethodPost, surveyPath(surveyID, "answers"), q, &resp, true); err != nil {
		return "", err
	}
	return resp.CanonicalAnswer, nil
}

func (c *Client) MarkCompleted(ctx context.Context, surveyID string) error {
	return c.doJSON(ctx, http.MethodPost, surveyPath(surveyID, "complete"), nil, nil, true)
}

func (c *Client) RecordDuration(ctx context.Context, surveyID string, seconds int) error {
	body := map[string]int{"seconds": seconds}
	return c.doJSON(ctx, http.MethodPost, surveyPath(surveyID, "duration"), body, nil, true)
}

func surveyPath(surveyID, action string) string {
	return "/v1/surveys/" + url.PathEscape(surveyID) + "/" + action
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}, auth bool) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out, auth)
}

func (c *Client) do(req *http.Request, out interface{}, auth bool) error {
	if auth {
		if c.token == "" {
			return ErrNotEnrolled
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
