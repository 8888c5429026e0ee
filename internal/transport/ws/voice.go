package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"voicesurvey/internal/metrics"
	"voicesurvey/internal/model"
	"voicesurvey/internal/service"
	"voicesurvey/internal/voice/audio"
	"voicesurvey/internal/voice/capture"
	"voicesurvey/internal/voice/conversation"
	"voicesurvey/internal/voice/speech"
)

const (
	maxVoiceMessageSize = 64 << 10
	defaultCaptureRate  = 16000
	commandBuffer       = 8
)

// command is a client control message
type command struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

type stateMessage struct {
	State    conversation.State `json:"state"`
	Question *model.Question    `json:"question,omitempty"`
	Answered int                `json:"answered"`
}

type speechState struct {
	Speaking   bool `json:"speaking"`
	Processing bool `json:"processing"`
}

type errorMessage struct {
	Command string `json:"command,omitempty"`
	Message string `json:"message"`
}

// VoiceWS handles GET /v1/ws/surveys/{surveyId}/voice. The conversation runs
// on the server; the client plays audio and streams PCM16 microphone frames.
func (h *Handler) VoiceWS(w http.ResponseWriter, r *http.Request) {
	surveyID := mux.Vars(r)["surveyId"]
	token := r.URL.Query().Get("token")

	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.authSvc.ValidateRespondentToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if claims.SurveyID != surveyID {
		http.Error(w, "token not valid for this survey", http.StatusForbidden)
		return
	}

	rate := defaultCaptureRate
	if v, err := strconv.Atoi(r.URL.Query().Get("rate")); err == nil && v > 0 {
		rate = v
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("Respondent %s started a voice session for survey %s", claims.RespondentID, surveyID)

	vs := h.newVoiceSession(wsConn, surveyID, claims.RespondentID, audio.PCM16(rate, 1))
	go vs.run()
}

// voiceSession is one respondent's server-side conversation
type voiceSession struct {
	surveys      *service.SurveyService
	conn         *voiceConn
	player       *wsPlayer
	device       *wsDevice
	orch         *conversation.Orchestrator
	surveyID     string
	respondentID string
	commands     chan command
}

func (h *Handler) newVoiceSession(wsConn *websocket.Conn, surveyID, respondentID string, format audio.Format) *voiceSession {
	conn := newVoiceConn(wsConn)
	vs := &voiceSession{
		surveys:      h.surveySvc,
		conn:         conn,
		player:       newWSPlayer(conn),
		device:       newWSDevice(conn, format),
		surveyID:     surveyID,
		respondentID: respondentID,
		commands:     make(chan command, commandBuffer),
	}

	speaker := speech.NewQueue(
		&speech.Voice{TTS: h.tts, Player: vs.player},
		speech.OnStateChange(func(speaking, processing bool) {
			conn.send(MsgSpeechState, speechState{Speaking: speaking, Processing: processing})
		}),
	)
	recorder := capture.NewSession(vs.device,
		capture.OnLevel(func(level float64) {
			conn.trySend(MsgLevel, map[string]float64{"level": level})
		}),
		capture.WithLevelInterval(h.voiceCfg.LevelInterval),
	)
	backend := service.NewConversationBackend(h.surveySvc, h.evaluator, h.transcriber, respondentID)

	vs.orch = conversation.New(
		conversation.Config{SurveyID: surveyID, RedirectDelay: h.voiceCfg.RedirectDelay},
		backend, speaker, recorder,
		conversation.OnStateChange(vs.onState),
		conversation.OnItem(func(item model.ConversationItem) {
			conn.send(MsgItem, item)
		}),
		conversation.OnNavigate(func() {
			conn.send(MsgNavigate, nil)
		}),
	)
	return vs
}

func (vs *voiceSession) run() {
	metrics.SessionOpened()
	defer metrics.SessionClosed()

	go vs.conn.writePump()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		vs.work()
	}()

	vs.readLoop()

	vs.orch.Close()
	close(vs.commands)
	<-workerDone
	vs.conn.close()
	vs.surveys.EndSession(context.Background(), vs.surveyID, vs.respondentID)
	log.Printf("Respondent %s left the voice session for survey %s", vs.respondentID, vs.surveyID)
}

// work runs conversation operations one at a time, off the read loop, so
// playback acks and audio frames keep flowing during a long turn
func (vs *voiceSession) work() {
	ctx := context.Background()
	if err := vs.orch.Load(ctx); err != nil {
		vs.conn.send(MsgError, errorMessage{Command: CmdLoad, Message: err.Error()})
	}

	for cmd := range vs.commands {
		var err error
		switch cmd.Type {
		case CmdLoad:
			err = vs.orch.Load(ctx)
		case CmdStart:
			err = vs.orch.Start(ctx)
		case CmdStartRecording:
			err = vs.orch.StartRecording(ctx)
		case CmdStopRecording:
			err = vs.orch.StopRecording(ctx)
		}
		if err != nil && !errors.Is(err, conversation.ErrClosed) {
			vs.conn.send(MsgError, errorMessage{Command: cmd.Type, Message: err.Error()})
		}
	}
}

func (vs *voiceSession) readLoop() {
	ws := vs.conn.ws
	ws.SetReadLimit(maxVoiceMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Voice WebSocket error: %v", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		if kind == websocket.BinaryMessage {
			vs.device.push(data)
			continue
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			vs.conn.send(MsgError, errorMessage{Message: "invalid message"})
			continue
		}

		switch cmd.Type {
		case CmdPlaybackDone:
			vs.player.ack(cmd.ID)
		case CmdLoad, CmdStart, CmdStartRecording, CmdStopRecording:
			select {
			case vs.commands <- cmd:
			default:
				vs.conn.send(MsgError, errorMessage{Command: cmd.Type, Message: "busy, try again"})
			}
		default:
			vs.conn.send(MsgError, errorMessage{Command: cmd.Type, Message: "unknown command"})
		}
	}
}

func (vs *voiceSession) onState(state conversation.State) {
	snap := vs.orch.Snapshot()
	vs.conn.send(MsgState, stateMessage{State: state, Question: snap.Current, Answered: snap.Answered})

	session := &model.VoiceSession{
		SurveyID:     vs.surveyID,
		RespondentID: vs.respondentID,
		State:        state.String(),
		Answered:     snap.Answered,
	}
	if snap.Current != nil {
		session.CurrentQuestionID = snap.Current.ID
	}
	for _, q := range snap.Visible {
		if q.RawAnswer == "" && !q.IsPreAnswered() {
			session.Remaining++
		}
	}
	vs.surveys.UpdateSession(context.Background(), session)
}
