package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicesurvey/internal/cache"
	"voicesurvey/internal/config"
	"voicesurvey/internal/model"
	"voicesurvey/internal/repository"
	"voicesurvey/internal/service"
	"voicesurvey/internal/voice/tts"
)

type stubSurveyRepo struct {
	survey *model.Survey
}

func (r *stubSurveyRepo) Create(ctx context.Context, s *model.Survey) (string, error) {
	return s.ID, nil
}

func (r *stubSurveyRepo) GetByID(ctx context.Context, id string) (*model.Survey, error) {
	if id != r.survey.ID {
		return nil, nil
	}
	return r.survey, nil
}

type stubResponseRepo struct {
	mu        sync.Mutex
	answers   map[string]model.AnswerRecord
	completed bool
}

func (r *stubResponseRepo) Create(ctx context.Context, resp *model.Response) (string, error) {
	return "resp-1", nil
}

func (r *stubResponseRepo) Get(ctx context.Context, surveyID, respondentID string) (*model.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	answers := make(map[string]model.AnswerRecord, len(r.answers))
	for k, v := range r.answers {
		answers[k] = v
	}
	return &model.Response{SurveyID: surveyID, RespondentID: respondentID, Answers: answers}, nil
}

func (r *stubResponseRepo) SaveAnswer(ctx context.Context, surveyID, respondentID, questionID string, rec model.AnswerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers[questionID] = rec
	return nil
}

func (r *stubResponseRepo) MarkCompleted(ctx context.Context, surveyID, respondentID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = true
	return nil
}

func (r *stubResponseRepo) SetDuration(ctx context.Context, surveyID, respondentID string, seconds int) error {
	return nil
}

func (r *stubResponseRepo) ListBySurvey(ctx context.Context, surveyID string) ([]*model.Response, error) {
	return nil, nil
}

var _ repository.ResponseRepo = (*stubResponseRepo)(nil)

type stubSTT struct{ text string }

func (s stubSTT) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	return s.text, nil
}

type voiceHarness struct {
	url       string
	auth      *service.AuthService
	responses *stubResponseRepo
	sessions  cache.SessionCache
}

func newVoiceHarness(t *testing.T) *voiceHarness {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	survey := &model.Survey{ID: "s1", Title: "Colors", Questions: []model.Question{
		{ID: "color", Text: "What is your favorite color?", ResponseType: model.ResponseOpen, Order: 1},
	}}
	responses := &stubResponseRepo{answers: map[string]model.AnswerRecord{}}
	sessions := cache.NewSessionCache(client, time.Hour)
	auth := service.NewAuthService("host", "pw", "key", time.Hour)
	surveys := service.NewSurveyService(&stubSurveyRepo{survey: survey}, responses, sessions, auth, service.NewMatcher(nil))
	evaluator := service.NewEvaluatorService(context.Background(), &config.AIConfig{}, nil)
	transcriber := service.NewTranscriptionService(stubSTT{text: " blue "})

	hub := NewHub()
	t.Cleanup(hub.Close)
	h := NewHandler(hub, auth, surveys, evaluator, transcriber, tts.Silent{}, VoiceConfig{
		RedirectDelay: 10 * time.Millisecond,
		LevelInterval: 5 * time.Millisecond,
	})

	r := mux.NewRouter()
	r.HandleFunc("/v1/ws/surveys/{surveyId}/voice", h.VoiceWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &voiceHarness{
		url:       "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws/surveys/",
		auth:      auth,
		responses: responses,
		sessions:  sessions,
	}
}

type voiceClient struct {
	ws       *websocket.Conn
	messages chan Message
	writeMu  sync.Mutex
}

// dialVoice connects and acknowledges every clip as soon as it ends
func dialVoice(t *testing.T, url string) *voiceClient {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	c := &voiceClient{ws: ws, messages: make(chan Message, 256)}
	t.Cleanup(func() { ws.Close() })

	go func() {
		defer close(c.messages)
		for {
			kind, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				continue
			}
			var msg Message
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			if msg.Type == MsgAudioEnd {
				var ref audioRef
				json.Unmarshal(msg.Payload, &ref)
				c.command(CmdPlaybackDone, ref.ID)
			}
			c.messages <- msg
		}
	}()
	return c
}

func (c *voiceClient) command(cmdType, id string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(command{Type: cmdType, ID: id})
}

func (c *voiceClient) binary(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// waitFor reads until match accepts a message, collecting items on the way
func (c *voiceClient) waitFor(t *testing.T, items *[]model.ConversationItem, match func(Message) bool) Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-c.messages:
			require.True(t, ok, "connection closed")
			if msg.Type == MsgItem && items != nil {
				var item model.ConversationItem
				require.NoError(t, json.Unmarshal(msg.Payload, &item))
				*items = append(*items, item)
			}
			if match(msg) {
				return msg
			}
		case <-timeout:
			t.Fatal("timed out")
			return Message{}
		}
	}
}

func stateIs(name string) func(Message) bool {
	return func(m Message) bool {
		if m.Type != MsgState {
			return false
		}
		var s struct {
			State string `json:"state"`
		}
		json.Unmarshal(m.Payload, &s)
		return s.State == name
	}
}

func speechIdle(m Message) bool {
	if m.Type != MsgSpeechState {
		return false
	}
	var s speechState
	json.Unmarshal(m.Payload, &s)
	return !s.Speaking && !s.Processing
}

func TestVoiceSessionRejectsForeignToken(t *testing.T) {
	h := newVoiceHarness(t)
	token, err := h.auth.GenerateRespondentToken("other", "r1")
	require.NoError(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(h.url+"s1/voice?token="+token, nil)
	require.Error(t, err)
	assert.Equal(t, 403, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(h.url+"s1/voice", nil)
	require.Error(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestVoiceSessionConversation(t *testing.T) {
	h := newVoiceHarness(t)
	token, err := h.auth.GenerateRespondentToken("s1", "r1")
	require.NoError(t, err)
	c := dialVoice(t, h.url+"s1/voice?token="+token)

	var items []model.ConversationItem
	c.waitFor(t, &items, stateIs("idle"))

	require.NoError(t, c.command(CmdStart, ""))
	c.waitFor(t, &items, func(m Message) bool { return m.Type == MsgItem })
	c.waitFor(t, &items, speechIdle)

	require.NoError(t, c.command(CmdStartRecording, ""))
	c.waitFor(t, &items, stateIs("recording"))

	assert.Eventually(t, func() bool {
		session, err := h.sessions.Get(context.Background(), "s1", "r1")
		return err == nil && session != nil && session.State == "recording" && session.CurrentQuestionID == "color"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.binary(make([]byte, 640)))
	require.NoError(t, c.command(CmdStopRecording, ""))
	c.waitFor(t, &items, func(m Message) bool { return m.Type == MsgNavigate })

	kinds := make([]model.ItemKind, 0, len(items))
	for _, item := range items {
		kinds = append(kinds, item.Kind)
	}
	assert.Equal(t, []model.ItemKind{
		model.ItemQuestion, model.ItemAnswer, model.ItemSympathy, model.ItemCompletion, model.ItemSystem,
	}, kinds)
	assert.Equal(t, "blue", items[1].Text)

	h.responses.mu.Lock()
	assert.Equal(t, "blue", h.responses.answers["color"].Raw)
	assert.True(t, h.responses.completed)
	h.responses.mu.Unlock()
}

func TestVoiceSessionRejectsRecordingBeforeStart(t *testing.T) {
	h := newVoiceHarness(t)
	token, err := h.auth.GenerateRespondentToken("s1", "r2")
	require.NoError(t, err)
	c := dialVoice(t, h.url+"s1/voice?token="+token)

	c.waitFor(t, nil, stateIs("idle"))
	require.NoError(t, c.command(CmdStartRecording, ""))
	msg := c.waitFor(t, nil, func(m Message) bool { return m.Type == MsgError })

	var e errorMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &e))
	assert.Equal(t, CmdStartRecording, e.Command)

	require.NoError(t, c.command("dance", ""))
	msg = c.waitFor(t, nil, func(m Message) bool { return m.Type == MsgError })
	require.NoError(t, json.Unmarshal(msg.Payload, &e))
	assert.Equal(t, "unknown command", e.Message)
}
