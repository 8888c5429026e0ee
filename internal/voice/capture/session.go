// Package capture records one spoken answer at a time from an input device.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"voicesurvey/internal/voice/audio"
)

var (
	ErrAlreadyActive = errors.New("capture: a recording is already active")
	ErrNotActive     = errors.New("capture: no active recording")
)

// DefaultLevelInterval is roughly one animation frame
const DefaultLevelInterval = 16 * time.Millisecond

// Device opens an input stream. Open fails when the microphone is denied
// or missing.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream delivers raw chunks until closed. Frames is closed by the stream
// once Close has released the device.
type Stream interface {
	Frames() <-chan []byte
	Format() audio.Format
	Close() error
}

// Blob is a finished recording
type Blob struct {
	Data     []byte
	MimeType string
	Format   audio.Format
	Duration time.Duration
}

type Option func(*Session)

// OnLevel receives meter values in [0, 1] while recording
func OnLevel(fn func(float64)) Option {
	return func(s *Session) { s.onLevel = fn }
}

// WithLevelInterval overrides the metering cadence
func WithLevelInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.levelEvery = d
		}
	}
}

// Session owns at most one active recording
type Session struct {
	device     Device
	onLevel    func(float64)
	levelEvery time.Duration

	mu  sync.Mutex
	rec *recording
}

type recording struct {
	stream  Stream
	started time.Time

	mu    sync.Mutex
	buf   bytes.Buffer
	level float64

	stopMeter chan struct{}
	meterDone chan struct{}
	drained   chan struct{}
}

func NewSession(device Device, opts ...Option) *Session {
	s := &Session{device: device, levelEvery: DefaultLevelInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// active reports whether a recording is in progress
func (s *Session) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec != nil
}

// Start opens the device and begins buffering. A failed open leaves the
// session inactive.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec != nil {
		return ErrAlreadyActive
	}
	if s.device == nil {
		return fmt.Errorf("open input: no device")
	}

	stream, err := s.device.Open(ctx)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}

	rec := &recording{
		stream:    stream,
		started:   time.Now(),
		stopMeter: make(chan struct{}),
		meterDone: make(chan struct{}),
		drained:   make(chan struct{}),
	}
	s.rec = rec

	go rec.drain()
	if s.onLevel != nil && stream.Format().IsPCM() {
		go rec.meter(s.levelEvery, s.onLevel)
	} else {
		close(rec.meterDone)
	}
	return nil
}

// Stop ends the recording and returns what was captured. PCM input is
// framed as WAV so it can be uploaded as a file.
func (s *Session) Stop(ctx context.Context) (*Blob, error) {
	s.mu.Lock()
	rec := s.rec
	s.rec = nil
	s.mu.Unlock()

	if rec == nil {
		return nil, ErrNotActive
	}

	close(rec.stopMeter)
	<-rec.meterDone
	closeErr := rec.stream.Close()

	select {
	case <-rec.drained:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if closeErr != nil {
		log.Printf("Capture stream close failed: %v", closeErr)
	}

	format := rec.stream.Format()
	rec.mu.Lock()
	data := append([]byte(nil), rec.buf.Bytes()...)
	rec.mu.Unlock()

	blob := &Blob{
		Data:     data,
		MimeType: format.MimeType(),
		Format:   format,
		Duration: time.Since(rec.started),
	}
	if format.IsPCM() {
		blob.Data = audio.WrapPCMAsWAV(data, format.SampleRate, format.Channels)
		blob.Format = audio.Format{Encoding: audio.EncodingWAV, SampleRate: format.SampleRate, Channels: format.Channels}
		if bps := format.BytesPerSecond(); bps > 0 {
			blob.Duration = time.Duration(len(data)) * time.Second / time.Duration(bps)
		}
	}
	return blob, nil
}

// Abort releases the device and discards the recording
func (s *Session) Abort() {
	s.mu.Lock()
	rec := s.rec
	s.rec = nil
	s.mu.Unlock()

	if rec == nil {
		return
	}
	close(rec.stopMeter)
	if err := rec.stream.Close(); err != nil {
		log.Printf("Capture stream close failed: %v", err)
	}
}

func (r *recording) drain() {
	defer close(r.drained)
	pcm := r.stream.Format().IsPCM()
	for chunk := range r.stream.Frames() {
		r.mu.Lock()
		r.buf.Write(chunk)
		if pcm {
			r.level = audio.Level(chunk)
		}
		r.mu.Unlock()
	}
}

func (r *recording) meter(every time.Duration, publish func(float64)) {
	defer close(r.meterDone)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopMeter:
			return
		case <-ticker.C:
			r.mu.Lock()
			l := r.level
			r.mu.Unlock()
			publish(l)
		}
	}
}
