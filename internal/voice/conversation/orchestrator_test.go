package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicesurvey/internal/model"
	"voicesurvey/internal/voice/audio"
	"voicesurvey/internal/voice/capture"
	"voicesurvey/internal/voice/speech"
)

type fakeBackend struct {
	mu sync.Mutex

	questions   []model.Question
	fetchErr    error
	transcripts []string
	transErr    error
	submitErrs  []error
	sympathy    string
	sympErr     error
	completeErr error

	submitted []model.Question
	completed int
	durations []int
}

func (b *fakeBackend) FetchQuestions(ctx context.Context, surveyID string) ([]model.Question, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	return model.CloneQuestions(b.questions), nil
}

func (b *fakeBackend) Transcribe(ctx context.Context, clip *capture.Blob) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.transErr != nil {
		return "", b.transErr
	}
	if len(b.transcripts) == 0 {
		return "", nil
	}
	t := b.transcripts[0]
	b.transcripts = b.transcripts[1:]
	return t, nil
}

func (b *fakeBackend) Sympathy(ctx context.Context, questionText, answer string) (string, error) {
	if b.sympErr != nil {
		return "", b.sympErr
	}
	return b.sympathy, nil
}

// SubmitAnswer canonicalizes categorical answers by case-insensitive match
func (b *fakeBackend) SubmitAnswer(ctx context.Context, surveyID string, q model.Question) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.submitErrs) > 0 {
		err := b.submitErrs[0]
		b.submitErrs = b.submitErrs[1:]
		if err != nil {
			return "", err
		}
	}
	b.submitted = append(b.submitted, q)
	if q.ResponseType == model.ResponseCategorical {
		for _, c := range q.Categories {
			if strings.EqualFold(c, q.RawAnswer) {
				return c, nil
			}
		}
		return "", nil
	}
	return q.RawAnswer, nil
}

func (b *fakeBackend) MarkCompleted(ctx context.Context, surveyID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.completeErr != nil {
		return b.completeErr
	}
	b.completed++
	return nil
}

func (b *fakeBackend) RecordDuration(ctx context.Context, surveyID string, seconds int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.durations = append(b.durations, seconds)
	return nil
}

type fakeRecorder struct {
	startErr error
	active   bool
	aborted  bool
}

func (r *fakeRecorder) Start(ctx context.Context) error {
	if r.startErr != nil {
		return r.startErr
	}
	if r.active {
		return capture.ErrAlreadyActive
	}
	r.active = true
	return nil
}

func (r *fakeRecorder) Stop(ctx context.Context) (*capture.Blob, error) {
	if !r.active {
		return nil, capture.ErrNotActive
	}
	r.active = false
	return &capture.Blob{Data: []byte("clip"), MimeType: "audio/wav", Format: audio.PCM16(16000, 1)}, nil
}

func (r *fakeRecorder) Abort() {
	r.active = false
	r.aborted = true
}

// voiceLog is a synthesizer that remembers what was said. When gate is set
// each utterance waits for it to be closed.
type voiceLog struct {
	mu   sync.Mutex
	said []string
	gate chan struct{}
}

func (v *voiceLog) Say(ctx context.Context, text string) error {
	v.mu.Lock()
	v.said = append(v.said, text)
	gate := v.gate
	v.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (v *voiceLog) utterances() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.said...)
}

type harness struct {
	o        *Orchestrator
	backend  *fakeBackend
	queue    *speech.Queue
	voice    *voiceLog
	recorder *fakeRecorder

	mu        sync.Mutex
	states    []State
	items     []model.ConversationItem
	navigated chan struct{}
}

func newHarness(t *testing.T, b *fakeBackend) *harness {
	t.Helper()
	h := &harness{
		backend:   b,
		voice:     &voiceLog{},
		recorder:  &fakeRecorder{},
		navigated: make(chan struct{}),
	}
	h.queue = speech.NewQueue(h.voice)
	h.o = New(
		Config{SurveyID: "s1", RedirectDelay: 5 * time.Millisecond},
		b, h.queue, h.recorder,
		OnStateChange(func(s State) {
			h.mu.Lock()
			h.states = append(h.states, s)
			h.mu.Unlock()
		}),
		OnItem(func(it model.ConversationItem) {
			h.mu.Lock()
			h.items = append(h.items, it)
			h.mu.Unlock()
		}),
		OnNavigate(func() { close(h.navigated) }),
	)
	t.Cleanup(h.o.Close)
	return h
}

func (h *harness) quiet(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.queue.Wait(ctx))
}

// answer records one turn; the transcript comes from the backend queue
func (h *harness) answer(t *testing.T) {
	t.Helper()
	h.quiet(t)
	require.NoError(t, h.o.StartRecording(context.Background()))
	require.NoError(t, h.o.StopRecording(context.Background()))
}

func (h *harness) itemsOf(kind model.ItemKind) []model.ConversationItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []model.ConversationItem
	for _, it := range h.items {
		if it.Kind == kind {
			out = append(out, it)
		}
	}
	return out
}

func (h *harness) presented() []string {
	var ids []string
	for _, it := range h.itemsOf(model.ItemQuestion) {
		ids = append(ids, it.QuestionID)
	}
	return ids
}

func (h *harness) stateTrace() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states...)
}

func (h *harness) waitNavigated(t *testing.T) {
	t.Helper()
	select {
	case <-h.navigated:
	case <-time.After(2 * time.Second):
		t.Fatal("conversation never navigated away")
	}
}

func open(id string, order int) model.Question {
	return model.Question{ID: id, Text: "Question " + id + "?", ResponseType: model.ResponseOpen, Order: order}
}

func TestTwoOpenQuestions(t *testing.T) {
	b := &fakeBackend{
		questions:   []model.Question{open("q1", 1), open("q2", 2)},
		transcripts: []string{"  first answer ", "second answer"},
		sympathy:    "Thanks for sharing.",
	}
	h := newHarness(t, b)

	require.NoError(t, h.o.Load(context.Background()))
	require.NoError(t, h.o.Start(context.Background()))
	assert.Equal(t, StatePresenting, h.o.State())

	h.answer(t)
	assert.Equal(t, StatePresenting, h.o.State())
	assert.Equal(t, "q2", h.o.Snapshot().Current.ID)

	h.answer(t)
	h.waitNavigated(t)

	assert.Equal(t, []State{
		StateIdle,
		StatePresenting, StateRecording, StateProcessing, StatePersisting, StateResolving,
		StatePresenting, StateRecording, StateProcessing, StatePersisting, StateResolving,
		StateCompleting, StateCompleted,
	}, h.stateTrace())

	assert.Len(t, h.itemsOf(model.ItemQuestion), 2)
	answers := h.itemsOf(model.ItemAnswer)
	require.Len(t, answers, 2)
	assert.Equal(t, "first answer", answers[0].Text)
	assert.Len(t, h.itemsOf(model.ItemSympathy), 2)
	assert.Len(t, h.itemsOf(model.ItemCompletion), 1)
	assert.Empty(t, h.itemsOf(model.ItemError))

	require.Len(t, b.submitted, 2)
	assert.Equal(t, "first answer", b.submitted[0].RawAnswer)
	assert.Empty(t, b.submitted[0].CanonicalAnswer)
	assert.Equal(t, 1, b.completed)
	assert.Len(t, b.durations, 1)

	msgs := DefaultMessages()
	assert.Equal(t, []string{
		"Question q1?", "Thanks for sharing.",
		"Question q2?", "Thanks for sharing.",
		msgs.Completion, msgs.Success,
	}, h.voice.utterances())

	snap := h.o.Snapshot()
	assert.Equal(t, 2, snap.Answered)
	assert.Equal(t, StateCompleted, snap.State)
}

func conditionalSurvey() []model.Question {
	return []model.Question{
		{ID: "car", Text: "Do you own a car?", ResponseType: model.ResponseCategorical, Categories: []string{"Yes", "No"}, Order: 1},
		open("later", 2),
		{ID: "brand", Text: "Which brand?", ResponseType: model.ResponseOpen, ParentID: "car", ParentTriggerCategories: []string{"Yes"}, Order: 10},
	}
}

func TestRevealedChildComesBeforeLaterSibling(t *testing.T) {
	b := &fakeBackend{
		questions:   conditionalSurvey(),
		transcripts: []string{"yes", "Toyota", "nothing else"},
	}
	h := newHarness(t, b)

	require.NoError(t, h.o.Load(context.Background()))
	require.NoError(t, h.o.Start(context.Background()))
	h.answer(t)
	assert.Equal(t, "brand", h.o.Snapshot().Current.ID)

	h.answer(t)
	h.answer(t)
	h.waitNavigated(t)

	assert.Equal(t, []string{"car", "brand", "later"}, h.presented())
	assert.Equal(t, "yes", b.submitted[0].RawAnswer)
	snap := h.o.Snapshot()
	require.Len(t, snap.Visible, 3)
	assert.Equal(t, "Yes", snap.Visible[0].CanonicalAnswer)
	assert.Equal(t, StateCompleted, h.o.State())
}

func TestUntriggeredChildIsNeverPresented(t *testing.T) {
	b := &fakeBackend{
		questions:   conditionalSurvey(),
		transcripts: []string{"no", "fine"},
	}
	h := newHarness(t, b)

	require.NoError(t, h.o.Load(context.Background()))
	require.NoError(t, h.o.Start(context.Background()))
	h.answer(t)
	h.answer(t)
	h.waitNavigated(t)

	assert.Equal(t, []string{"car", "later"}, h.presented())
}

func TestPreAnsweredQuestionsAreSkipped(t *testing.T) {
	pre := model.Question{
		ID: "plan", Text: "Which plan?", ResponseType: model.ResponseCategorical,
		Categories: []string{"Basic", "Pro"}, Order: 1,
		Autofill: model.AutofillYes, CanonicalAnswer: "Pro",
	}
	child := model.Question{
		ID: "pro", Text: "What do you use Pro for?", ResponseType: model.ResponseOpen,
		ParentID: "plan", ParentTriggerCategories: []string{"Pro"}, Order: 2,
	}
	b := &fakeBackend{
		questions:   []model.Question{pre, child, open("last", 3)},
		transcripts: []string{"reports", "no"},
	}
	h := newHarness(t, b)

	require.NoError(t, h.o.Load(context.Background()))
	require.NoError(t, h.o.Start(context.Background()))
	h.answer(t)
	h.answer(t)
	h.waitNavigated(t)

	assert.Equal(t, []string{"pro", "last"}, h.presented())
	for _, q := range b.submitted {
		assert.NotEqual(t, "plan", q.ID)
	}
}

func TestAllPreAnsweredCompletesImmediately(t *testing.T) {
	b := &fakeBackend{questions: []model.Question{{
		ID: "q1", Text: "Age?", ResponseType: model.ResponseScale, ScaleMax: 10,
		Autofill: model.AutofillYes, CanonicalAnswer: "7",
	}}}
	h := newHarness(t, b)

	require.NoError(t, h.o.Load(context.Background()))
	require.NoError(t, h.o.Start(context.Background()))
	h.waitNavigated(t)

	assert.Empty(t, h.presented())
	completion := h.itemsOf(model.ItemCompletion)
	require.Len(t, completion, 1)
	assert.Equal(t, DefaultMessages().AlreadyAnswered, completion[0].Text)
	assert.Equal(t, 1, b.completed)
	assert.Equal(t, []State{StateIdle, StateCompleting, StateCompleted}, h.stateTrace())
}

func TestEmptyTranscriptRetriesSameQuestion(t *testing.T) {
	b := &fakeBackend{
		questions:   []model.Question{open("q1", 1), open("q2", 2)},
		transcripts: []string{"   "},
	}
	h := newHarness(t, b)

	require.NoError(t, h.o.Load(context.Background()))
	require.NoError(t, h.o.Start(context.Background()))
	before := h.o.Snapshot().Index

	h.answer(t)

	snap := h.o.Snapshot()
	assert.Equal(t, StatePresenting, snap.State)
	assert.Equal(t, before, snap.Index)
	assert.Len(t, h.itemsOf(model.ItemError), 1)
	assert.Len(t, h.itemsOf(model.ItemQuestion), 1)
	assert.Empty(t, h.itemsOf(model.ItemAnswer))
	assert.Empty(t, b.submitted)

	h.quiet(t)
	assert.Equal(t, []string{"Question q1?", DefaultMessages().RetryAnswer, "Question q1?"}, h.voice.utterances())
}

func TestTranscriptionErrorRetries(t *testing.T) {
	b := &fakeBackend{
		questions: []model.Question{open("q1", 1)},
		transErr:  errors.New("provider down"),
	}
	h := newHarness(t, b)

	require.NoError(t, h.o.Load(context.Background()))
	require.NoError(t, h.o.Start(context.Background()))
	h.answer(t)

	assert.Equal(t, StatePresenting, h.o.State())
	assert.Len(t, h.itemsOf(model.ItemError), 1)
}

func TestSubmitFailureRetriesTurn(t *testing.T) {
	b := &fakeBackend{
		questions:   []model.Question{open("q1", 1)},
		transcripts: []string{"first try", "second try"},
		submitErrs:  []error{errors.New("503")},
	}
	h := newHarness(t, b)

	require.NoError(t, h.o.Load(context.Background()))
	require.NoError(t, h.o.Start(context.Background()))

	h.answer(t)
	assert.Equal(t, StatePresenting, h.o.State())
	assert.Equal(t, "q1", h.o.Snapshot().Current.ID)
	assert.Empty(t, h.o.Snapshot().Current.RawAnswer)
	assert.Len(t, h.itemsOf(model.ItemError), 1)

	h.answer(t)
	h.waitNavigated(t)
	require.Len(t, b.submitted, 1)
	assert.Equal(t, "second try", b.submitted[0].RawAnswer)
}

func TestSympathyFailureIsNotFatal(t *testing.T) {
	b := &fakeBackend{
		questions:   []model.Question{open("q1", 1), open("q2", 2)},
		transcripts: []string{"a", "b"},
		sympErr:     errors.New("llm timeout"),
	}
	h := newHarness(t, b)

	require.NoError(t, h.o.Load(context.Background()))
	require.NoError(t, h.o.Start(context.Background()))
	h.answer(t)
	assert.Equal(t, "q2", h.o.Snapshot().Current.ID)
	h.answer(t)
	h.waitNavigated(t)

	assert.Empty(t, h.itemsOf(model.ItemSympathy))
	assert.Empty(t, h.itemsOf(model.ItemError))
}

func TestFinalizationFailureStillNavigates(t *testing.T) {
	b := &fakeBackend{
		questions:   []model.Question{open("q1", 1)},
		transcripts: []string{"done"},
		completeErr: errors.New("backend unavailable"),
	}
	h := newHarness(t, b)

	require.NoError(t, h.o.Load(context.Background()))
	require.NoError(t, h.o.Start(context.Background()))
	h.answer(t)
	h.waitNavigated(t)

	errs := h.itemsOf(model.ItemError)
	require.Len(t, errs, 1)
	assert.Equal(t, DefaultMessages().FinalizeFailed, errs[0].Text)
	assert.Empty(t, b.durations)
	assert.Empty(t, h.itemsOf(model.ItemSystem))
	assert.Equal(t, StateCompleted, h.o.State())
}

func TestLoadFailureCanBeRetried(t *testing.T) {
	b := &fakeBackend{
		questions: []model.Question{open("q1", 1)},
		fetchErr:  errors.New("network"),
	}
	h := newHarness(t, b)

	err := h.o.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, h.o.State())
	assert.Len(t, h.itemsOf(model.ItemError), 1)
	assert.ErrorIs(t, h.o.Start(context.Background()), ErrInvalidState)

	b.mu.Lock()
	b.fetchErr = nil
	b.mu.Unlock()

	require.NoError(t, h.o.Load(context.Background()))
	assert.Equal(t, StateIdle, h.o.State())
	assert.Equal(t, []State{StateFailed, StateLoading, StateIdle}, h.stateTrace())
}

func TestLoadRejectsCycles(t *testing.T) {
	a := open("a", 1)
	a.ParentID = "b"
	bq := open("b", 2)
	bq.ParentID = "a"
	h := newHarness(t, &fakeBackend{questions: []model.Question{a, bq}})

	assert.Error(t, h.o.Load(context.Background()))
	assert.Equal(t, StateFailed, h.o.State())
}

func TestRecordingRefusedWhileSpeaking(t *testing.T) {
	b := &fakeBackend{questions: []model.Question{open("q1", 1)}}
	h := newHarness(t, b)
	gate := make(chan struct{})
	h.voice.gate = gate

	require.NoError(t, h.o.Load(context.Background()))
	require.NoError(t, h.o.Start(context.Background()))

	assert.ErrorIs(t, h.o.StartRecording(context.Background()), ErrSpeaking)
	assert.Equal(t, StatePresenting, h.o.State())

	close(gate)
	h.quiet(t)
	require.NoError(t, h.o.StartRecording(context.Background()))
	assert.Equal(t, StateRecording, h.o.State())
}

func TestCaptureFailureStaysPresenting(t *testing.T) {
	b := &fakeBackend{questions: []model.Question{open("q1", 1)}}
	h := newHarness(t, b)
	h.recorder.startErr = errors.New("permission denied")

	require.NoError(t, h.o.Load(context.Background()))
	require.NoError(t, h.o.Start(context.Background()))
	h.quiet(t)

	err := h.o.StartRecording(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatePresenting, h.o.State())
	assert.Len(t, h.itemsOf(model.ItemError), 1)

	h.recorder.startErr = nil
	h.quiet(t)
	require.NoError(t, h.o.StartRecording(context.Background()))
}

func TestOperationsOutOfOrder(t *testing.T) {
	h := newHarness(t, &fakeBackend{questions: []model.Question{open("q1", 1)}})

	assert.ErrorIs(t, h.o.Start(context.Background()), ErrInvalidState)
	assert.ErrorIs(t, h.o.StopRecording(context.Background()), ErrInvalidState)

	require.NoError(t, h.o.Load(context.Background()))
	assert.ErrorIs(t, h.o.Load(context.Background()), ErrInvalidState)
	assert.ErrorIs(t, h.o.StartRecording(context.Background()), ErrInvalidState)
}

func TestCloseStopsEverything(t *testing.T) {
	b := &fakeBackend{questions: []model.Question{open("q1", 1)}}
	h := newHarness(t, b)
	h.voice.gate = make(chan struct{})

	require.NoError(t, h.o.Load(context.Background()))
	require.NoError(t, h.o.Start(context.Background()))

	h.o.Close()
	h.quiet(t)
	assert.True(t, h.recorder.aborted)
	assert.ErrorIs(t, h.o.StartRecording(context.Background()), ErrClosed)
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, CanTransition(StateLoading, StateIdle))
	assert.True(t, CanTransition(StateResolving, StatePresenting))
	assert.False(t, CanTransition(StatePresenting, StateProcessing))
	assert.False(t, CanTransition(StateCompleted, StatePresenting))
	assert.Empty(t, transitions[StateCompleted])
	assert.Equal(t, "presenting_question", StatePresenting.String())
}
