package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicesurvey/internal/service"
)

func receive(t *testing.T, ch <-chan []byte) Message {
	t.Helper()
	select {
	case data, ok := <-ch:
		require.True(t, ok, "connection closed")
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestHubBroadcastsPerSurvey(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	a := &Connection{SurveyID: "s1", Send: make(chan []byte, 4), Hub: hub}
	b := &Connection{SurveyID: "s1", Send: make(chan []byte, 4), Hub: hub}
	other := &Connection{SurveyID: "s2", Send: make(chan []byte, 4), Hub: hub}
	hub.Register(a)
	hub.Register(b)
	hub.Register(other)
	assert.Eventually(t, func() bool { return hub.HostCount("s1") == 2 }, time.Second, 5*time.Millisecond)

	hub.BroadcastToHost("s1", service.EventAnswerSubmitted, map[string]string{"questionId": "q1"})

	for _, conn := range []*Connection{a, b} {
		msg := receive(t, conn.Send)
		assert.Equal(t, MessageType(service.EventAnswerSubmitted), msg.Type)
		assert.JSONEq(t, `{"questionId":"q1"}`, string(msg.Payload))
	}
	select {
	case <-other.Send:
		t.Fatal("message leaked to another survey")
	case <-time.After(50 * time.Millisecond):
	}

	hub.Unregister(a)
	_, ok := <-a.Send
	assert.False(t, ok, "unregister closes the send channel")
	assert.Eventually(t, func() bool { return hub.HostCount("s1") == 1 }, time.Second, 5*time.Millisecond)
}

func TestHubCloseDisconnectsHosts(t *testing.T) {
	hub := NewHub()
	conn := &Connection{SurveyID: "s1", Send: make(chan []byte, 1), Hub: hub}
	hub.Register(conn)
	hub.Close()

	select {
	case _, ok := <-conn.Send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}

	// must not block after close
	hub.BroadcastToHost("s1", "x", nil)
}

func TestHostWS(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	auth := service.NewAuthService("host", "pw", "key", time.Hour)
	h := NewHandler(hub, auth, nil, nil, nil, nil, VoiceConfig{})

	r := mux.NewRouter()
	r.HandleFunc("/v1/ws/surveys/{surveyId}/host", h.HostWS)
	srv := httptest.NewServer(r)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws/surveys/s1/host"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	assert.Equal(t, 401, resp.StatusCode)

	login, err := auth.Login("host", "pw")
	require.NoError(t, err)
	ws, _, err := websocket.DefaultDialer.Dial(base+"?token="+login.Token, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return hub.HostCount("s1") == 1 }, time.Second, 5*time.Millisecond)
	hub.BroadcastToHost("s1", service.EventRespondentJoined, map[string]string{"respondentId": "r1"})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, MessageType(service.EventRespondentJoined), msg.Type)
}
