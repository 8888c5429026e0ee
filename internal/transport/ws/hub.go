package ws

import (
	"encoding/json"
	"log"
	"sync"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Host message types
const (
	MsgHostConnected MessageType = "host_connected"
)

// Voice session message types, server to client
const (
	MsgState       MessageType = "state"
	MsgItem        MessageType = "item"
	MsgSpeechState MessageType = "speech_state"
	MsgLevel       MessageType = "level"
	MsgAudioStart  MessageType = "audio_start"
	MsgAudioEnd    MessageType = "audio_end"
	MsgAudioCancel MessageType = "audio_cancel"
	MsgNavigate    MessageType = "navigate"
	MsgError       MessageType = "error"
)

// Voice session commands, client to server
const (
	CmdLoad           = "load"
	CmdStart          = "start"
	CmdStartRecording = "start_recording"
	CmdStopRecording  = "stop_recording"
	CmdPlaybackDone   = "playback_done"
)

// Message is the WebSocket envelope format
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func encode(msgType MessageType, payload interface{}) []byte {
	msg := &Message{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("WebSocket: failed to encode %s payload: %v", msgType, err)
			return nil
		}
		msg.Payload = data
	}
	data, _ := json.Marshal(msg)
	return data
}

// Hub fans survey progress out to connected host dashboards
type Hub struct {
	// Survey -> host connections
	hostConns map[string]map[*Connection]struct{}

	mu sync.RWMutex

	// Channels for coordination
	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *BroadcastMessage
	done       chan struct{}
	closeOnce  sync.Once
}

// Connection represents a host WebSocket connection
type Connection struct {
	SurveyID string
	HostID   string
	Send     chan []byte
	Hub      *Hub
}

// BroadcastMessage is a message to broadcast
type BroadcastMessage struct {
	SurveyID string
	Data     []byte
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	h := &Hub{
		hostConns:  make(map[string]map[*Connection]struct{}),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for _, conns := range h.hostConns {
				for conn := range conns {
					close(conn.Send)
				}
			}
			h.hostConns = make(map[string]map[*Connection]struct{})
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if h.hostConns[conn.SurveyID] == nil {
				h.hostConns[conn.SurveyID] = make(map[*Connection]struct{})
			}
			h.hostConns[conn.SurveyID][conn] = struct{}{}
			h.mu.Unlock()
			log.Printf("Host %s connected to survey %s", conn.HostID, conn.SurveyID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.hostConns[conn.SurveyID]; ok {
				if _, ok := conns[conn]; ok {
					delete(conns, conn)
					close(conn.Send)
					if len(conns) == 0 {
						delete(h.hostConns, conn.SurveyID)
					}
					log.Printf("Host %s disconnected from survey %s", conn.HostID, conn.SurveyID)
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.hostConns[msg.SurveyID] {
				select {
				case conn.Send <- msg.Data:
				default:
					// Drop message if buffer full
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		close(conn.Send)
	}
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// HostCount returns how many dashboards watch a survey
func (h *Hub) HostCount(surveyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.hostConns[surveyID])
}

// Close disconnects every host and stops the hub
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// BroadcastToHost sends a message to the survey's hosts (implements service.Broadcaster)
func (h *Hub) BroadcastToHost(surveyID string, msgType string, payload interface{}) {
	data := encode(MessageType(msgType), payload)
	if data == nil {
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{SurveyID: surveyID, Data: data}:
	case <-h.done:
	}
}
