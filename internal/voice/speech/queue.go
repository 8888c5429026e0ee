// Package speech serializes spoken output. Entries play strictly one at a
// time in the order they were enqueued.
package speech

import (
	"context"
	"errors"
	"log"
	"sync"

	"voicesurvey/internal/metrics"
)

var (
	ErrCancelled   = errors.New("speech: cancelled")
	ErrUnavailable = errors.New("speech: synthesizer unavailable")
)

// Synthesizer speaks one utterance, returning once playback has finished
// or failed. It must return promptly when ctx is cancelled.
type Synthesizer interface {
	Say(ctx context.Context, text string) error
}

// StateFunc receives the queue flags whenever they change
type StateFunc func(speaking, processing bool)

type Option func(*Queue)

// OnStateChange registers a listener for IsSpeaking/IsProcessingQueue
func OnStateChange(fn StateFunc) Option {
	return func(q *Queue) { q.onState = fn }
}

type entry struct {
	text       string
	onComplete func()
	done       chan struct{}
}

// Queue is a FIFO of utterances drained by a single consumer goroutine.
// The goroutine only runs while entries are pending.
type Queue struct {
	synth   Synthesizer
	onState StateFunc

	mu         sync.Mutex
	pending    []*entry
	processing bool
	speaking   bool
	idle       chan struct{} // closed when the consumer exits
	cancelled  chan struct{} // closed by Cancel, then replaced
	stopCur    context.CancelFunc

	notifyMu sync.Mutex
}

// NewQueue returns an idle queue. A nil synth makes every entry complete
// immediately.
func NewQueue(synth Synthesizer, opts ...Option) *Queue {
	q := &Queue{
		synth:     synth,
		cancelled: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends an utterance. onComplete runs on the queue goroutine after
// the utterance finished, unless the queue is cancelled first.
func (q *Queue) Enqueue(text string, onComplete func()) {
	q.push(text, onComplete)
}

// Speak enqueues text and waits until it has been played
func (q *Queue) Speak(ctx context.Context, text string) error {
	e, cancelled := q.push(text, nil)
	select {
	case <-e.done:
		return nil
	case <-cancelled:
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until nothing is pending or playing
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	busy := q.processing
	q.mu.Unlock()
	if !busy {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) IsSpeaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.speaking
}

func (q *Queue) IsProcessingQueue() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Cancel stops the current utterance and drops everything pending. Dropped
// entries never run their callbacks; blocked Speak calls get ErrCancelled.
func (q *Queue) Cancel() {
	q.mu.Lock()
	dropped := len(q.pending)
	q.pending = nil
	close(q.cancelled)
	q.cancelled = make(chan struct{})
	if q.stopCur != nil {
		q.stopCur()
		dropped++
	}
	q.mu.Unlock()

	if dropped > 0 {
		log.Printf("Speech queue cancelled, %d utterance(s) dropped", dropped)
	}
}

func (q *Queue) push(text string, onComplete func()) (*entry, <-chan struct{}) {
	e := &entry{text: text, onComplete: onComplete, done: make(chan struct{})}

	q.mu.Lock()
	q.pending = append(q.pending, e)
	cancelled := q.cancelled
	start := !q.processing
	if start {
		q.processing = true
		q.idle = make(chan struct{})
		go q.run(q.idle)
	}
	q.mu.Unlock()

	if start {
		q.notify()
	}
	return e, cancelled
}

func (q *Queue) run(idle chan struct{}) {
	defer close(idle)

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.processing = false
			q.speaking = false
			q.mu.Unlock()
			q.notify()
			return
		}
		e := q.pending[0]
		q.pending = q.pending[1:]
		gen := q.cancelled
		ctx, cancel := context.WithCancel(context.Background())
		q.stopCur = cancel
		q.speaking = true
		q.mu.Unlock()
		q.notify()

		status := q.say(ctx, e.text)
		cancel()

		q.mu.Lock()
		q.stopCur = nil
		q.speaking = false
		skipped := gen != q.cancelled
		q.mu.Unlock()

		if skipped {
			metrics.RecordUtterance("cancelled")
			continue
		}
		metrics.RecordUtterance(status)
		if e.onComplete != nil {
			e.onComplete()
		}
		close(e.done)
	}
}

func (q *Queue) say(ctx context.Context, text string) string {
	if q.synth == nil || text == "" {
		return metrics.StatusSuccess
	}
	if err := q.synth.Say(ctx, text); err != nil {
		if ctx.Err() == nil {
			log.Printf("Speech failed for %q: %v", text, err)
		}
		return metrics.StatusError
	}
	return metrics.StatusSuccess
}

// notify reports the current flags. Calls are serialized so listeners see
// the latest state last.
func (q *Queue) notify() {
	if q.onState == nil {
		return
	}
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	q.mu.Lock()
	speaking, processing := q.speaking, q.processing
	q.mu.Unlock()
	q.onState(speaking, processing)
}
