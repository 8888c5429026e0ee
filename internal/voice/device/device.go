// Package device binds the local microphone and speaker through miniaudio.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/gen2brain/malgo"

	"voicesurvey/internal/voice/audio"
	"voicesurvey/internal/voice/capture"
)

const (
	// CaptureRate is the sample rate of recordings
	CaptureRate     = 16000
	captureChannels = 1
	framesBuffered  = 256
)

var ErrNotPCM = errors.New("device: speaker only plays 16-bit PCM")

// Context owns the miniaudio backend shared by the microphone and speaker
type Context struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (*Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Println("malgo:", message)
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Context{ctx: ctx}, nil
}

func (c *Context) Close() {
	_ = c.ctx.Uninit()
	c.ctx.Free()
}

// Microphone opens a fresh capture device for every recording
type Microphone struct {
	c *Context
}

func (c *Context) Microphone() *Microphone {
	return &Microphone{c: c}
}

// Open implements capture.Device
func (m *Microphone) Open(ctx context.Context) (capture.Stream, error) {
	s := &micStream{
		frames: make(chan []byte, framesBuffered),
		format: audio.PCM16(CaptureRate, captureChannels),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = CaptureRate
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = captureChannels
	cfg.Alsa.NoMMap = 1
	cfg.PeriodSizeInMilliseconds = 20

	bytesPerFrame := malgo.SampleSizeInBytes(malgo.FormatS16) * captureChannels
	dev, err := malgo.InitDevice(m.c.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(pInput) < n {
				return
			}
			s.push(pInput[:n])
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("start capture device: %w", err)
	}
	s.dev = dev
	return s, nil
}

type micStream struct {
	dev    *malgo.Device
	frames chan []byte
	format audio.Format

	mu      sync.Mutex
	closed  bool
	dropped int
}

func (s *micStream) Frames() <-chan []byte { return s.frames }
func (s *micStream) Format() audio.Format  { return s.format }

// push copies a chunk out of the driver buffer; it never blocks the audio thread
func (s *micStream) push(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- append([]byte(nil), chunk...):
	default:
		s.dropped++
	}
}

func (s *micStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dropped := s.dropped
	close(s.frames)
	s.mu.Unlock()

	if dropped > 0 {
		log.Printf("Microphone dropped %d chunk(s)", dropped)
	}
	s.dev.Uninit()
	return nil
}

// Speaker plays PCM through the default output device
type Speaker struct {
	c *Context
}

func (c *Context) Speaker() *Speaker {
	return &Speaker{c: c}
}

// Play implements speech.Player. It returns once the last sample has been
// handed to the device or ctx is cancelled.
func (sp *Speaker) Play(ctx context.Context, r io.Reader, format audio.Format) error {
	if !format.IsPCM() {
		return ErrNotPCM
	}

	buf := newPCMBuffer()
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(format.Channels)
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(sp.c.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, _ uint32) {
			buf.fill(pOutput)
		},
	})
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}
	defer dev.Uninit()

	if err := dev.Start(); err != nil {
		return fmt.Errorf("start playback device: %w", err)
	}
	defer dev.Stop()

	readErr := make(chan error, 1)
	go func() {
		_, err := io.Copy(buf, r)
		buf.finish()
		readErr <- err
	}()

	select {
	case <-buf.drained:
	case <-ctx.Done():
		buf.finish()
		return ctx.Err()
	}
	if err := <-readErr; err != nil {
		return fmt.Errorf("read audio: %w", err)
	}
	return nil
}

// pcmBuffer hands bytes from a producer to the device callback and signals
// once the producer is finished and everything has been consumed.
type pcmBuffer struct {
	mu       sync.Mutex
	data     []byte
	finished bool
	drained  chan struct{}
	once     sync.Once
}

func newPCMBuffer() *pcmBuffer {
	return &pcmBuffer{drained: make(chan struct{})}
}

func (b *pcmBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *pcmBuffer) finish() {
	b.mu.Lock()
	b.finished = true
	b.mu.Unlock()
}

// fill copies pending audio into out and pads the rest with silence
func (b *pcmBuffer) fill(out []byte) {
	b.mu.Lock()
	n := copy(out, b.data)
	b.data = b.data[n:]
	done := b.finished && len(b.data) == 0
	b.mu.Unlock()

	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if done {
		b.once.Do(func() { close(b.drained) })
	}
}
