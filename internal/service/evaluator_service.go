package service

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"slices"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"

	"voicesurvey/internal/cache"
	"voicesurvey/internal/config"
	"voicesurvey/internal/model"
)

// generator produces a JSON completion for a prompt
type generator interface {
	Generate(ctx context.Context, modelName, prompt string) (string, error)
}

type geminiGenerator struct {
	client *genai.Client
}

func (g *geminiGenerator) Generate(ctx context.Context, modelName, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, modelName, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from Gemini")
	}
	return text, nil
}

// EvaluatorService handles the AI parts of a survey turn via Gemini
type EvaluatorService struct {
	config *config.AIConfig
	gen    generator
	cache  cache.SympathyCache
}

// NewEvaluatorService creates a new evaluator service. Without an API key,
// or when the client cannot be built, it answers with mock responses.
func NewEvaluatorService(ctx context.Context, cfg *config.AIConfig, sympathy cache.SympathyCache) *EvaluatorService {
	if cfg == nil {
		cfg = config.DefaultAIConfig()
	}
	s := &EvaluatorService{config: cfg, cache: sympathy}
	if !cfg.IsEnabled() {
		log.Printf("Evaluator: GEMINI_API_KEY not set, using mock responses")
		return s
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		log.Printf("Evaluator: failed to create Gemini client, using mock responses: %v", err)
		return s
	}
	s.gen = &geminiGenerator{client: client}
	return s
}

func (s *EvaluatorService) call(ctx context.Context, modelName, prompt string) (string, error) {
	if s.config.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.config.TimeoutMS)*time.Millisecond)
		defer cancel()
	}
	return s.gen.Generate(ctx, modelName, prompt)
}

// Sympathy returns a short spoken acknowledgment of an answer
func (s *EvaluatorService) Sympathy(ctx context.Context, questionText, answer string) (string, error) {
	if s.cache != nil {
		if line, err := s.cache.Get(ctx, questionText, answer); err != nil {
			log.Printf("Evaluator: sympathy cache read failed: %v", err)
		} else if line != "" {
			return line, nil
		}
	}

	if s.gen == nil {
		return mockSympathy(answer), nil
	}

	response, err := s.call(ctx, s.config.Models.Sympathy, buildSympathyPrompt(questionText, answer))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Printf("Evaluator: sympathy generation failed: %v", err)
		return mockSympathy(answer), nil
	}

	var result struct {
		Reply string `json:"reply"`
	}
	if err := json.Unmarshal([]byte(response), &result); err != nil || strings.TrimSpace(result.Reply) == "" {
		return mockSympathy(answer), nil
	}

	line := strings.TrimSpace(result.Reply)
	if s.cache != nil {
		if err := s.cache.Set(ctx, questionText, answer, line); err != nil {
			log.Printf("Evaluator: sympathy cache write failed: %v", err)
		}
	}
	return line, nil
}

// MatchCategory asks the model which allowed value a free-form answer means.
// It returns "" when nothing fits or the model is unavailable.
func (s *EvaluatorService) MatchCategory(ctx context.Context, q model.Question, raw string) (string, error) {
	options := allowedValues(q)
	if s.gen == nil || len(options) == 0 || strings.TrimSpace(raw) == "" {
		return "", nil
	}

	response, err := s.call(ctx, s.config.Models.Mapping, buildMappingPrompt(q, options, raw))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Printf("Evaluator: mapping failed for question %s: %v", q.ID, err)
		return "", nil
	}

	var result struct {
		Match string `json:"match"`
	}
	if err := json.Unmarshal([]byte(response), &result); err != nil {
		return "", nil
	}
	for _, opt := range options {
		if strings.EqualFold(opt, strings.TrimSpace(result.Match)) {
			return opt, nil
		}
	}
	return "", nil
}

// allowedValues lists the canonical answers a question accepts
func allowedValues(q model.Question) []string {
	switch q.ResponseType {
	case model.ResponseCategorical:
		return slices.Clone(q.Categories)
	case model.ResponseScale:
		if q.ScaleMax <= 0 {
			return nil
		}
		values := make([]string, 0, q.ScaleMax+1)
		for i := 0; i <= q.ScaleMax; i++ {
			values = append(values, strconv.Itoa(i))
		}
		return values
	}
	return nil
}

// Prompt builders
func buildSympathyPrompt(questionText, answer string) string {
	return fmt.Sprintf(`You are a warm voice interviewer running a short survey. The respondent just answered a question.
Reply with one short, natural sentence acknowledging the answer. Do not ask a new question. Return ONLY valid JSON:
{"reply": "..."}

Question: %s
Answer: %s`, questionText, answer)
}

func buildMappingPrompt(q model.Question, options []string, raw string) string {
	return fmt.Sprintf(`Map a spoken survey answer to exactly one of the allowed values. If none fits, use an empty string. Return ONLY valid JSON:
{"match": "..."}

Question: %s
Allowed values: %s
Answer: %s`, q.Text, strings.Join(options, ", "), raw)
}

var mockSympathyLines = []string{
	"Thanks for sharing that.",
	"Got it, thank you.",
	"I appreciate your answer.",
	"Thank you, that's helpful.",
}

// mockSympathy picks a stable line for an answer
func mockSympathy(answer string) string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(answer))))
	return mockSympathyLines[h.Sum32()%uint32(len(mockSympathyLines))]
}
