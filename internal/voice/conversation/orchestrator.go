// Package conversation drives a spoken survey: it presents questions, records
// and transcribes answers, stores them, follows conditional branches and
// finalizes the response.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"voicesurvey/internal/metrics"
	"voicesurvey/internal/model"
	"voicesurvey/internal/voice/answer"
	"voicesurvey/internal/voice/graph"
)

var (
	ErrInvalidState = errors.New("conversation: operation not allowed in current state")
	ErrSpeaking     = errors.New("conversation: wait for the prompt to finish")
	ErrClosed       = errors.New("conversation: closed")
)

// DefaultRedirectDelay is how long a failed finalization waits before navigating away
const DefaultRedirectDelay = 3 * time.Second

// Messages are the system lines spoken by the conversation
type Messages struct {
	AlreadyAnswered string
	Completion      string
	Success         string
	FinalizeFailed  string
	RetryAnswer     string
	CaptureFailed   string
	SaveFailed      string
	LoadFailed      string
}

func DefaultMessages() Messages {
	return Messages{
		AlreadyAnswered: "It looks like every question has already been answered. Thank you!",
		Completion:      "That was the last question. Thank you for taking the survey.",
		Success:         "Your responses have been saved. Goodbye!",
		FinalizeFailed:  "Sorry, we could not submit your survey. You will be redirected shortly.",
		RetryAnswer:     "Sorry, I didn't catch that. Let's try again.",
		CaptureFailed:   "I couldn't access the microphone. Please check the permission and try again.",
		SaveFailed:      "Sorry, I couldn't save that answer. Let's try again.",
		LoadFailed:      "Sorry, the survey could not be loaded.",
	}
}

// Config binds an orchestrator to one survey run
type Config struct {
	SurveyID      string
	RedirectDelay time.Duration
	Messages      Messages
}

type Option func(*Orchestrator)

func OnStateChange(fn func(State)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

func OnItem(fn func(model.ConversationItem)) Option {
	return func(o *Orchestrator) { o.onItem = fn }
}

// OnNavigate is called once the conversation is over and the user should
// leave the survey.
func OnNavigate(fn func()) Option {
	return func(o *Orchestrator) { o.onNavigate = fn }
}

// Snapshot is a read-only view of a conversation
type Snapshot struct {
	State    State                    `json:"state"`
	Current  *model.Question          `json:"current,omitempty"`
	Index    int                      `json:"index"`
	Visible  []model.Question         `json:"visible"`
	Items    []model.ConversationItem `json:"items"`
	Answered int                      `json:"answered"`
}

// Orchestrator is the conversation state machine. Operations are serialized;
// observers are called from the goroutine running the operation.
type Orchestrator struct {
	cfg      Config
	backend  Backend
	speaker  Speaker
	recorder Recorder

	onState    func(State)
	onItem     func(model.ConversationItem)
	onNavigate func()

	ctx    context.Context
	cancel context.CancelFunc

	op sync.Mutex // one operation at a time

	mu        sync.Mutex
	state     State
	all       []model.Question
	visible   []model.Question
	current   int
	items     []model.ConversationItem
	startedAt time.Time
	navigated bool
}

func New(cfg Config, backend Backend, speaker Speaker, recorder Recorder, opts ...Option) *Orchestrator {
	if cfg.RedirectDelay <= 0 {
		cfg.RedirectDelay = DefaultRedirectDelay
	}
	if cfg.Messages == (Messages{}) {
		cfg.Messages = DefaultMessages()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:      cfg,
		backend:  backend,
		speaker:  speaker,
		recorder: recorder,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateLoading,
		current:  -1,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Snapshot copies the observable conversation data
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		State:   o.state,
		Index:   o.current,
		Visible: model.CloneQuestions(o.visible),
		Items:   append([]model.ConversationItem(nil), o.items...),
	}
	if o.current >= 0 && o.current < len(o.visible) {
		q := o.visible[o.current]
		snap.Current = &q
	}
	for _, q := range o.all {
		if q.RawAnswer != "" {
			snap.Answered++
		}
	}
	return snap
}

// Load fetches and validates the question set. It may be retried after a
// failure.
func (o *Orchestrator) Load(ctx context.Context) error {
	ctx, done, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	switch o.State() {
	case StateLoading:
	case StateFailed:
		o.transition(StateLoading)
	default:
		return ErrInvalidState
	}

	qs, err := o.backend.FetchQuestions(ctx, o.cfg.SurveyID)
	if err == nil {
		err = graph.Validate(qs)
	}
	if o.closed() {
		return ErrClosed
	}
	if err != nil {
		log.Printf("Survey %s failed to load: %v", o.cfg.SurveyID, err)
		o.appendItem(model.ItemError, "", o.cfg.Messages.LoadFailed)
		o.transition(StateFailed)
		return fmt.Errorf("load questions: %w", err)
	}

	all := model.CloneQuestions(qs)
	o.mu.Lock()
	o.all = all
	o.visible = graph.Resolve(all)
	o.current = -1
	o.mu.Unlock()

	o.transition(StateIdle)
	return nil
}

// Start begins the conversation with the first question needing an answer
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, done, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	if o.State() != StateIdle {
		return ErrInvalidState
	}

	o.mu.Lock()
	o.startedAt = time.Now()
	next := graph.FirstNeedingAnswer(o.visible, 0)
	o.mu.Unlock()

	if next < 0 {
		return o.complete(ctx, o.cfg.Messages.AlreadyAnswered)
	}
	o.present(next)
	return nil
}

// StartRecording begins capturing an answer to the current question. It is
// refused while a prompt is still playing.
func (o *Orchestrator) StartRecording(ctx context.Context) error {
	ctx, done, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	if o.State() != StatePresenting {
		return ErrInvalidState
	}
	if o.speaker.IsProcessingQueue() {
		return ErrSpeaking
	}

	if err := o.recorder.Start(ctx); err != nil {
		if o.closed() {
			return ErrClosed
		}
		log.Printf("Survey %s: microphone unavailable: %v", o.cfg.SurveyID, err)
		q, _ := o.currentQuestion()
		o.appendItem(model.ItemError, q.ID, o.cfg.Messages.CaptureFailed)
		o.speaker.Enqueue(o.cfg.Messages.CaptureFailed, nil)
		return fmt.Errorf("start recording: %w", err)
	}

	o.transition(StateRecording)
	return nil
}

// StopRecording finishes the answer and runs the turn to its end: transcribe,
// store, acknowledge and move on to the next question or to completion.
func (o *Orchestrator) StopRecording(ctx context.Context) error {
	ctx, done, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	if o.State() != StateRecording {
		return ErrInvalidState
	}
	q, ok := o.currentQuestion()
	if !ok {
		return ErrInvalidState
	}

	o.transition(StateProcessing)

	var raw string
	clip, err := o.recorder.Stop(ctx)
	if err == nil {
		start := time.Now()
		raw, err = o.backend.Transcribe(ctx, clip)
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
		}
		metrics.RecordTranscription(status, time.Since(start).Seconds())
	}
	if o.closed() {
		return ErrClosed
	}

	processed := answer.Process(raw, q.ResponseType)
	if err != nil || processed == "" {
		if err != nil {
			log.Printf("Survey %s: transcription failed for question %s: %v", o.cfg.SurveyID, q.ID, err)
		}
		o.retry(q, o.cfg.Messages.RetryAnswer)
		return nil
	}

	o.transition(StatePersisting)
	o.appendItem(model.ItemAnswer, q.ID, processed)

	submitted := q
	submitted.RawAnswer = processed
	submitted.CanonicalAnswer = ""
	canonical, err := o.backend.SubmitAnswer(ctx, o.cfg.SurveyID, submitted)
	if o.closed() {
		return ErrClosed
	}
	if err != nil {
		log.Printf("Survey %s: saving answer for question %s failed: %v", o.cfg.SurveyID, q.ID, err)
		o.retry(q, o.cfg.Messages.SaveFailed)
		return nil
	}
	o.recordAnswer(q.ID, processed, canonical)

	o.transition(StateResolving)
	if err := o.acknowledge(ctx, q.Text, processed); err != nil {
		return err
	}

	metrics.RecordTurn(metrics.StatusSuccess)

	next := o.advance(q.ID)
	if next < 0 {
		return o.complete(ctx, o.cfg.Messages.Completion)
	}
	o.present(next)
	return nil
}

// Close tears the conversation down. In-flight calls are cancelled and
// their results ignored.
func (o *Orchestrator) Close() {
	o.cancel()
	o.speaker.Cancel()
	o.recorder.Abort()
}

// acknowledge speaks a sympathy line for the answer and waits for it to play
func (o *Orchestrator) acknowledge(ctx context.Context, questionText, processed string) error {
	line, err := o.backend.Sympathy(ctx, questionText, processed)
	if o.closed() {
		return ErrClosed
	}
	if err != nil {
		log.Printf("Survey %s: sympathy unavailable: %v", o.cfg.SurveyID, err)
		return nil
	}
	if line == "" {
		return nil
	}
	o.appendItem(model.ItemSympathy, "", line)
	if err := o.speaker.Speak(ctx, line); err != nil && o.closed() {
		return ErrClosed
	}
	return nil
}

// advance recomputes visibility after an answer and picks the next question.
// Newly revealed questions come first, then the rest of the list after the
// answered question, then anything skipped earlier. Returns -1 when done.
func (o *Orchestrator) advance(answeredID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	before := o.visible
	after := graph.Resolve(o.all)
	o.visible = after

	for _, q := range graph.Revealed(before, after) {
		if graph.NeedsAnswer(q) {
			return graph.IndexOf(after, q.ID)
		}
	}
	if next := graph.FirstNeedingAnswer(after, graph.IndexOf(after, answeredID)+1); next >= 0 {
		return next
	}
	return graph.FirstNeedingAnswer(after, 0)
}

func (o *Orchestrator) present(i int) {
	o.mu.Lock()
	o.current = i
	q := o.visible[i]
	o.mu.Unlock()

	o.transition(StatePresenting)
	o.appendItem(model.ItemQuestion, q.ID, q.Text)
	o.speaker.Enqueue(q.Text, nil)
}

// retry announces a failed turn and asks the same question again
func (o *Orchestrator) retry(q model.Question, notice string) {
	metrics.RecordTurn("retry")
	o.appendItem(model.ItemError, q.ID, notice)
	o.speaker.Enqueue(notice, nil)
	o.speaker.Enqueue(q.Text, nil)
	o.transition(StatePresenting)
}

// complete finalizes the response. Whatever happens, the user is sent away
// at the end.
func (o *Orchestrator) complete(ctx context.Context, message string) error {
	o.transition(StateCompleting)
	o.appendItem(model.ItemCompletion, "", message)
	if err := o.speaker.Speak(ctx, message); err != nil && o.closed() {
		return ErrClosed
	}

	if err := o.backend.MarkCompleted(ctx, o.cfg.SurveyID); err != nil {
		if o.closed() {
			return ErrClosed
		}
		log.Printf("Survey %s: marking completed failed: %v", o.cfg.SurveyID, err)
		o.appendItem(model.ItemError, "", o.cfg.Messages.FinalizeFailed)
		o.speaker.Speak(ctx, o.cfg.Messages.FinalizeFailed)
		o.transition(StateCompleted)
		o.navigateAfter(o.cfg.RedirectDelay)
		return nil
	}

	o.mu.Lock()
	elapsed := time.Since(o.startedAt)
	o.mu.Unlock()
	if err := o.backend.RecordDuration(ctx, o.cfg.SurveyID, int(elapsed.Seconds())); err != nil {
		log.Printf("Survey %s: recording duration failed: %v", o.cfg.SurveyID, err)
	}

	o.appendItem(model.ItemSystem, "", o.cfg.Messages.Success)
	if err := o.speaker.Speak(ctx, o.cfg.Messages.Success); err != nil && o.closed() {
		return ErrClosed
	}
	o.transition(StateCompleted)
	o.navigate()
	return nil
}

func (o *Orchestrator) navigateAfter(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		o.navigate()
	case <-o.ctx.Done():
	}
}

func (o *Orchestrator) navigate() {
	o.mu.Lock()
	already := o.navigated
	o.navigated = true
	o.mu.Unlock()
	if !already && o.onNavigate != nil {
		o.onNavigate()
	}
}

// recordAnswer writes a stored answer back by replacing both collections
func (o *Orchestrator) recordAnswer(id, raw, canonical string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.all = withAnswer(o.all, id, raw, canonical)
	o.visible = withAnswer(o.visible, id, raw, canonical)
}

func withAnswer(qs []model.Question, id, raw, canonical string) []model.Question {
	out := model.CloneQuestions(qs)
	for i := range out {
		if out[i].ID == id {
			out[i].RawAnswer = raw
			out[i].CanonicalAnswer = canonical
		}
	}
	return out
}

func (o *Orchestrator) currentQuestion() (model.Question, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current < 0 || o.current >= len(o.visible) {
		return model.Question{}, false
	}
	return o.visible[o.current], true
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	if !CanTransition(from, to) {
		o.mu.Unlock()
		log.Printf("Survey %s: ignoring illegal transition %s -> %s", o.cfg.SurveyID, from, to)
		return
	}
	o.state = to
	o.mu.Unlock()

	if o.onState != nil {
		o.onState(to)
	}
}

func (o *Orchestrator) appendItem(kind model.ItemKind, questionID, text string) {
	item := model.NewConversationItem(kind, questionID, text)
	o.mu.Lock()
	o.items = append(o.items, item)
	o.mu.Unlock()

	if o.onItem != nil {
		o.onItem(item)
	}
}

func (o *Orchestrator) closed() bool {
	return o.ctx.Err() != nil
}

// begin serializes an operation and ties the caller context to the
// orchestrator lifetime. done must be called when the operation ends.
func (o *Orchestrator) begin(ctx context.Context) (context.Context, func(), error) {
	o.op.Lock()
	if o.closed() {
		o.op.Unlock()
		return nil, nil, ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(o.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
		o.op.Unlock()
	}, nil
}
