package ws

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voicesurvey/internal/voice/audio"
	"voicesurvey/internal/voice/capture"
)

var errDisconnected = errors.New("ws: client disconnected")

const (
	audioChunkSize  = 8192
	playbackSlack   = 5 * time.Second
	playbackDefault = 60 * time.Second
	streamBuffered  = 256
)

type frame struct {
	kind int
	data []byte
}

// voiceConn serializes writes to one voice WebSocket
type voiceConn struct {
	ws   *websocket.Conn
	out  chan frame
	done chan struct{}
	once sync.Once
}

func newVoiceConn(ws *websocket.Conn) *voiceConn {
	return &voiceConn{
		ws:   ws,
		out:  make(chan frame, 64),
		done: make(chan struct{}),
	}
}

// send queues a JSON message; it blocks while the socket is backed up
func (c *voiceConn) send(msgType MessageType, payload interface{}) bool {
	data := encode(msgType, payload)
	if data == nil {
		return false
	}
	return c.put(frame{kind: websocket.TextMessage, data: data})
}

// trySend drops the message instead of waiting
func (c *voiceConn) trySend(msgType MessageType, payload interface{}) {
	data := encode(msgType, payload)
	if data == nil {
		return
	}
	select {
	case c.out <- frame{kind: websocket.TextMessage, data: data}:
	default:
	}
}

func (c *voiceConn) sendBinary(data []byte) bool {
	return c.put(frame{kind: websocket.BinaryMessage, data: data})
}

func (c *voiceConn) put(f frame) bool {
	select {
	case c.out <- f:
		return true
	case <-c.done:
		return false
	}
}

func (c *voiceConn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *voiceConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case f := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(f.kind, f.data); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// wsPlayer streams synthesized audio to the browser and waits for the
// client to report that playback finished
type wsPlayer struct {
	conn *voiceConn

	mu   sync.Mutex
	acks map[string]chan struct{}
}

func newWSPlayer(conn *voiceConn) *wsPlayer {
	return &wsPlayer{conn: conn, acks: make(map[string]chan struct{})}
}

type audioStart struct {
	ID     string       `json:"id"`
	Format audio.Format `json:"format"`
}

type audioRef struct {
	ID string `json:"id"`
}

func (p *wsPlayer) Play(ctx context.Context, r io.Reader, format audio.Format) error {
	id := uuid.New().String()
	ack := make(chan struct{})
	p.mu.Lock()
	p.acks[id] = ack
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.acks, id)
		p.mu.Unlock()
	}()

	if !p.conn.send(MsgAudioStart, audioStart{ID: id, Format: format}) {
		return errDisconnected
	}

	total := 0
	buf := make([]byte, audioChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			total += n
			if !p.conn.sendBinary(append([]byte(nil), buf[:n]...)) {
				return errDisconnected
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			p.conn.send(MsgAudioCancel, audioRef{ID: id})
			return err
		}
		if ctx.Err() != nil {
			p.conn.send(MsgAudioCancel, audioRef{ID: id})
			return ctx.Err()
		}
	}
	if !p.conn.send(MsgAudioEnd, audioRef{ID: id}) {
		return errDisconnected
	}

	timer := time.NewTimer(playbackTimeout(total, format))
	defer timer.Stop()
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		p.conn.send(MsgAudioCancel, audioRef{ID: id})
		return ctx.Err()
	case <-p.conn.done:
		return errDisconnected
	case <-timer.C:
		log.Printf("Voice: no playback ack for %s, continuing", id)
		return nil
	}
}

// playbackTimeout bounds the wait for an ack by the clip length
func playbackTimeout(n int, format audio.Format) time.Duration {
	if bps := format.BytesPerSecond(); bps > 0 {
		return time.Duration(n)*time.Second/time.Duration(bps) + playbackSlack
	}
	return playbackDefault
}

func (p *wsPlayer) ack(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.acks[id]; ok {
		close(ch)
		delete(p.acks, id)
	}
}

// wsDevice exposes the audio frames the client sends while recording
type wsDevice struct {
	conn   *voiceConn
	format audio.Format

	mu  sync.Mutex
	cur *wsStream
}

func newWSDevice(conn *voiceConn, format audio.Format) *wsDevice {
	return &wsDevice{conn: conn, format: format}
}

func (d *wsDevice) Open(ctx context.Context) (capture.Stream, error) {
	select {
	case <-d.conn.done:
		return nil, errDisconnected
	default:
	}

	s := &wsStream{
		device: d,
		frames: make(chan []byte, streamBuffered),
		format: d.format,
	}
	d.mu.Lock()
	d.cur = s
	d.mu.Unlock()
	return s, nil
}

// push routes a client frame to the open stream; frames outside a
// recording are dropped
func (d *wsDevice) push(data []byte) {
	d.mu.Lock()
	s := d.cur
	d.mu.Unlock()
	if s != nil {
		s.push(data)
	}
}

type wsStream struct {
	device *wsDevice
	frames chan []byte
	format audio.Format

	mu      sync.Mutex
	closed  bool
	dropped int
}

func (s *wsStream) Frames() <-chan []byte { return s.frames }
func (s *wsStream) Format() audio.Format  { return s.format }

func (s *wsStream) push(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- data:
	default:
		s.dropped++
	}
}

func (s *wsStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dropped := s.dropped
	close(s.frames)
	s.mu.Unlock()

	s.device.mu.Lock()
	if s.device.cur == s {
		s.device.cur = nil
	}
	s.device.mu.Unlock()

	if dropped > 0 {
		log.Printf("Voice: dropped %d audio frame(s)", dropped)
	}
	return nil
}
