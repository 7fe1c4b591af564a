package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/normanking/cortexassist/internal/bus"
	"github.com/normanking/cortexassist/internal/conversation"
	"github.com/normanking/cortexassist/internal/gateway"
	"github.com/normanking/cortexassist/internal/speech"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu       sync.Mutex
	commands []string
	quick    []gateway.QuickKind
	result   *gateway.CommandResult
	err      error
	entered  chan struct{}
	release  chan struct{}
	cfg      *gateway.BackendConfig
	cfgErr   error
}

func (f *fakeGateway) FetchConfig(context.Context) (*gateway.BackendConfig, error) {
	return f.cfg, f.cfgErr
}

func (f *fakeGateway) SendCommand(ctx context.Context, text string) (*gateway.CommandResult, error) {
	f.mu.Lock()
	f.commands = append(f.commands, text)
	f.mu.Unlock()
	return f.reply(ctx)
}

func (f *fakeGateway) QuickAction(ctx context.Context, kind gateway.QuickKind) (*gateway.CommandResult, error) {
	f.mu.Lock()
	f.quick = append(f.quick, kind)
	f.mu.Unlock()
	return f.reply(ctx)
}

func (f *fakeGateway) reply(ctx context.Context) (*gateway.CommandResult, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, &gateway.NetworkError{Op: "command", Err: ctx.Err()}
		}
	}
	return f.result, f.err
}

func (f *fakeGateway) BaseURL() string { return "http://localhost:5000/api" }

func (f *fakeGateway) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

type fakeSpeech struct {
	mu        sync.Mutex
	caps      speech.Capabilities
	events    chan speech.Event
	listening bool
	stopCalls int
	spoken    []string
	cancelled int
	closed    bool
}

func newFakeSpeech() *fakeSpeech {
	return &fakeSpeech{
		caps:   speech.Capabilities{RecognitionAvailable: true, SynthesisAvailable: true},
		events: make(chan speech.Event, 16),
	}
}

func (f *fakeSpeech) Capabilities() speech.Capabilities { return f.caps }
func (f *fakeSpeech) Events() <-chan speech.Event       { return f.events }

func (f *fakeSpeech) StartListening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.caps.RecognitionAvailable || f.listening {
		return false
	}
	f.listening = true
	return true
}

func (f *fakeSpeech) StopListening() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
}

func (f *fakeSpeech) Speak(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
}

func (f *fakeSpeech) CancelSpeech() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

func (f *fakeSpeech) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSpeech) said() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

type fakeReminders struct {
	mu        sync.Mutex
	refreshes int
	opened    int
	err       error
}

func (f *fakeReminders) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.err
}

func (f *fakeReminders) OpenPanel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
}

func (f *fakeReminders) counts() (refreshes, opened int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes, f.opened
}

type harness struct {
	s   *Session
	gw  *fakeGateway
	sp  *fakeSpeech
	rem *fakeReminders
	log *conversation.Log
	bus *bus.EventBus

	mu       sync.Mutex
	statuses []string
}

func newHarness(t *testing.T, result *gateway.CommandResult, err error) *harness {
	t.Helper()
	h := &harness{
		gw:  &fakeGateway{result: result, err: err},
		sp:  newFakeSpeech(),
		rem: &fakeReminders{},
		log: conversation.NewLog(),
		bus: bus.NewEventBus(),
	}
	h.bus.Subscribe(bus.EventTypeStatusChanged, func(e bus.Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.statuses = append(h.statuses, e.Data["status"].(string))
	})
	h.s = New(h.gw, h.sp, h.rem, h.log, h.bus, DefaultOptions(), zerolog.Nop())
	return h
}

func (h *harness) seenStatuses() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.statuses...)
}

func ok(response string) *gateway.CommandResult {
	return &gateway.CommandResult{Success: true, Response: response}
}

func TestSubmit_Success(t *testing.T) {
	h := newHarness(t, ok("3:45 PM"), nil)

	require.NoError(t, h.s.Submit(context.Background(), "what time is it"))

	entries := h.log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, conversation.SenderUser, entries[0].Sender)
	assert.Equal(t, "what time is it", entries[0].Content)
	assert.Equal(t, conversation.SenderAssistant, entries[1].Sender)
	assert.Equal(t, "🤖 Assistant: 3:45 PM", entries[1].Content)

	assert.Equal(t, []string{"🤖 Assistant: 3:45 PM"}, h.sp.said())
	assert.Equal(t, []string{"what time is it"}, h.gw.sent())
	assert.Equal(t, StatusReady, h.s.State().Input)
	assert.Equal(t, []string{"processing", "ready"}, h.seenStatuses())
}

func TestSubmit_TrimsText(t *testing.T) {
	h := newHarness(t, ok("done"), nil)

	require.NoError(t, h.s.Submit(context.Background(), "  tell me a joke \n"))
	assert.Equal(t, []string{"tell me a joke"}, h.gw.sent())
}

func TestSubmit_EmptyTextIgnored(t *testing.T) {
	h := newHarness(t, ok("x"), nil)

	for _, text := range []string{"", "   ", "\t\n"} {
		require.NoError(t, h.s.Submit(context.Background(), text))
	}

	assert.Zero(t, h.log.Len())
	assert.Empty(t, h.gw.sent())
	assert.Empty(t, h.seenStatuses())
	assert.Equal(t, InitialState(), h.s.State())
}

func TestSubmit_Rejected(t *testing.T) {
	t.Run("backend message", func(t *testing.T) {
		res := &gateway.CommandResult{Success: false, Response: "I don't know that city."}
		h := newHarness(t, res, &gateway.RejectedError{Op: "command", Message: res.Response})

		require.NoError(t, h.s.Submit(context.Background(), "weather in Atlantis"))

		last, _ := h.log.Last()
		assert.Equal(t, "🤖 Assistant: I don't know that city.", last.Content)
		assert.Equal(t, []string{last.Content}, h.sp.said())
		assert.Equal(t, StatusReady, h.s.State().Input)
	})

	t.Run("generic apology", func(t *testing.T) {
		h := newHarness(t, &gateway.CommandResult{}, &gateway.RejectedError{Op: "command"})

		require.NoError(t, h.s.Submit(context.Background(), "hmm"))

		last, _ := h.log.Last()
		assert.Equal(t, "🤖 Assistant: Sorry, I encountered an error.", last.Content)
	})
}

func TestSubmit_NetworkFailure(t *testing.T) {
	h := newHarness(t, nil, &gateway.NetworkError{Op: "command", Err: errors.New("connection refused")})

	require.NoError(t, h.s.Submit(context.Background(), "hello"))

	entries := h.log.Entries()
	require.Len(t, entries, 2)
	want := "🤖 Assistant: Sorry, I'm having trouble connecting to my services. Please make sure the backend is running on http://localhost:5000"
	assert.Equal(t, want, entries[1].Content)
	assert.Equal(t, []string{want}, h.sp.said())
	assert.Equal(t, StatusReady, h.s.State().Input)
}

func TestSubmit_BusyRejectsSecondSubmission(t *testing.T) {
	h := newHarness(t, ok("first"), nil)
	h.gw.entered = make(chan struct{}, 1)
	h.gw.release = make(chan struct{})

	var busy sync.WaitGroup
	busy.Add(1)
	h.bus.Subscribe(bus.EventTypeBusy, func(bus.Event) { busy.Done() })

	done := make(chan error, 1)
	go func() { done <- h.s.Submit(context.Background(), "first") }()
	<-h.gw.entered

	assert.True(t, h.s.State().Busy())
	assert.ErrorIs(t, h.s.Submit(context.Background(), "second"), ErrBusy)
	assert.False(t, h.s.StartListening())
	busy.Wait()

	close(h.gw.release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"first"}, h.gw.sent())
	assert.Equal(t, 2, h.log.Len(), "rejected submission must not be logged")
	assert.Equal(t, StatusReady, h.s.State().Input)

	require.NoError(t, h.s.QuickAction(context.Background(), "time"))
}

func TestSubmit_ReminderResponseRefreshes(t *testing.T) {
	res := ok("Reminder set for 05:00 PM")
	res.Data = map[string]any{"text": "call mom", "time": "2024-01-01T17:00:00"}
	h := newHarness(t, res, nil)

	require.NoError(t, h.s.Submit(context.Background(), "remind me to call mom at 5 pm"))

	refreshes, opened := h.rem.counts()
	assert.Equal(t, 1, refreshes)
	assert.Zero(t, opened)
}

func TestSubmit_OrdinaryResponseDoesNotRefresh(t *testing.T) {
	res := ok("Sunny, 31°C")
	res.Data = map[string]any{"temperature": 31}
	h := newHarness(t, res, nil)

	require.NoError(t, h.s.Submit(context.Background(), "weather"))

	refreshes, _ := h.rem.counts()
	assert.Zero(t, refreshes)
}

func TestQuickAction_ListDataIsSpoken(t *testing.T) {
	res := ok("Here are the top general news headlines")
	res.Data = []any{map[string]any{"title": "Headline"}}
	h := newHarness(t, res, nil)

	require.NoError(t, h.s.QuickAction(context.Background(), "news"))

	last, _ := h.log.Last()
	assert.Equal(t, "🤖 Assistant: Here are the top general news headlines", last.Content)
	assert.Equal(t, []string{last.Content}, h.sp.said())
	refreshes, _ := h.rem.counts()
	assert.Zero(t, refreshes)
	assert.Equal(t, StatusReady, h.s.State().Input)
}

func TestSubmit_WhileListeningStopsCapture(t *testing.T) {
	h := newHarness(t, ok("hi"), nil)
	require.True(t, h.s.StartListening())

	require.NoError(t, h.s.Submit(context.Background(), "typed instead"))

	assert.Equal(t, 1, h.sp.stopCalls)
	assert.Equal(t, StatusReady, h.s.State().Input)

	// The capture's own end arrives afterwards and must not disturb the state.
	h.s.Dispatch(context.Background(), speech.Event{Kind: speech.EventListenEnded})
	assert.Equal(t, StatusReady, h.s.State().Input)
}

func TestQuickAction(t *testing.T) {
	h := newHarness(t, ok("It's 3:45 PM"), nil)

	require.NoError(t, h.s.QuickAction(context.Background(), "time"))

	assert.Equal(t, []gateway.QuickKind{gateway.QuickTime}, h.gw.quick)
	assert.Empty(t, h.gw.sent())
	entries := h.log.Entries()
	require.Len(t, entries, 1, "quick actions append only the reply")
	assert.Equal(t, "🤖 Assistant: It's 3:45 PM", entries[0].Content)
	assert.Equal(t, []string{"processing", "ready"}, h.seenStatuses())
}

func TestQuickAction_NetworkFailureShortApology(t *testing.T) {
	h := newHarness(t, nil, &gateway.NetworkError{Op: "news", Err: errors.New("timeout")})

	require.NoError(t, h.s.QuickAction(context.Background(), "news"))

	last, _ := h.log.Last()
	assert.Equal(t, "🤖 Assistant: Sorry, I'm having trouble connecting to my services.", last.Content)
	assert.Equal(t, StatusReady, h.s.State().Input)
}

func TestQuickAction_Reminders(t *testing.T) {
	h := newHarness(t, ok("unused"), nil)

	require.NoError(t, h.s.QuickAction(context.Background(), "reminders"))

	refreshes, opened := h.rem.counts()
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 1, opened)
	assert.Empty(t, h.gw.sent())
	assert.Empty(t, h.gw.quick)
	assert.NotContains(t, h.seenStatuses(), "processing")
	assert.Zero(t, h.log.Len())
}

func TestQuickAction_Unknown(t *testing.T) {
	h := newHarness(t, ok("x"), nil)

	assert.Error(t, h.s.QuickAction(context.Background(), "horoscope"))
	assert.Empty(t, h.gw.quick)
	assert.Equal(t, StatusReady, h.s.State().Input)
}

func TestInit_GreetsOnce(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.gw.cfg = &gateway.BackendConfig{DefaultCity: "Hyderabad", DefaultCountry: "India"}

	h.s.Init(context.Background())
	h.s.Init(context.Background())

	entries := h.log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "🤖 Assistant: Hello! I'm your voice assistant configured for Hyderabad, India. How can I help you today?", entries[0].Content)
	assert.Equal(t, "Hyderabad", h.s.Backend().DefaultCity)
}

func TestInit_ConfigFailureStillGreets(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.gw.cfgErr = &gateway.NetworkError{Op: "config", Err: errors.New("refused")}

	h.s.Init(context.Background())

	entries := h.log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "🤖 Assistant: Hello! I'm your voice assistant. How can I help you today?", entries[0].Content)
	assert.Nil(t, h.s.Backend())
}

func TestVoice_TranscriptRoundTrip(t *testing.T) {
	h := newHarness(t, ok("Sunny"), nil)
	ctx := context.Background()

	require.True(t, h.s.StartListening())
	assert.Equal(t, StatusListening, h.s.State().Input)
	assert.False(t, h.s.StartListening())

	h.s.Dispatch(ctx, speech.Event{Kind: speech.EventListenStarted})
	assert.Equal(t, StatusListening, h.s.State().Input)

	h.s.Dispatch(ctx, speech.Event{Kind: speech.EventTranscript, Text: "what's the weather"})
	h.s.Dispatch(ctx, speech.Event{Kind: speech.EventListenEnded})

	assert.Equal(t, []string{"what's the weather"}, h.gw.sent())
	entries := h.log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "what's the weather", entries[0].Content)
	assert.Equal(t, StatusReady, h.s.State().Input)
	assert.Equal(t, []string{"listening", "processing", "ready"}, h.seenStatuses())
}

func TestVoice_RecognitionError(t *testing.T) {
	h := newHarness(t, ok("unused"), nil)
	ctx := context.Background()

	require.True(t, h.s.StartListening())
	h.s.Dispatch(ctx, speech.Event{Kind: speech.EventRecognitionError, Err: errors.New("no-speech")})
	h.s.Dispatch(ctx, speech.Event{Kind: speech.EventListenEnded})

	assert.Equal(t, StatusReady, h.s.State().Input)
	entries := h.log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "🤖 Assistant: Sorry, I couldn't understand that. Please try again.", entries[0].Content)
	assert.Empty(t, h.gw.sent())
}

func TestVoice_EndWithoutResult(t *testing.T) {
	h := newHarness(t, ok("unused"), nil)

	require.True(t, h.s.StartListening())
	h.s.Dispatch(context.Background(), speech.Event{Kind: speech.EventListenEnded})

	assert.Equal(t, StatusReady, h.s.State().Input)
	assert.Zero(t, h.log.Len())
}

func TestVoice_Unsupported(t *testing.T) {
	h := newHarness(t, ok("unused"), nil)
	h.sp.caps = speech.Capabilities{}

	assert.False(t, h.s.StartListening())
	assert.Equal(t, StatusReady, h.s.State().Input)
	assert.False(t, h.s.Capabilities().RecognitionAvailable)
}

func TestSpeakingOverlay(t *testing.T) {
	h := newHarness(t, ok("unused"), nil)
	ctx := context.Background()

	h.s.Dispatch(ctx, speech.Event{Kind: speech.EventSpeechStarted, Utterance: 1})
	assert.Equal(t, State{Input: StatusReady, Speaking: true}, h.s.State())

	h.s.StopSpeaking()
	assert.Equal(t, 1, h.sp.cancelled)

	h.s.Dispatch(ctx, speech.Event{Kind: speech.EventSpeechEnded, Utterance: 1, Interrupted: true})
	assert.Equal(t, InitialState(), h.s.State())
}

func TestMessagesPublishedInOrder(t *testing.T) {
	h := newHarness(t, ok("pong"), nil)

	var mu sync.Mutex
	var senders []conversation.Sender
	h.bus.Subscribe(bus.EventTypeMessageAppended, func(e bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		senders = append(senders, e.Data["entry"].(conversation.Entry).Sender)
	})

	require.NoError(t, h.s.Submit(context.Background(), "ping"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []conversation.Sender{conversation.SenderUser, conversation.SenderAssistant}, senders)
}

func TestRun_ConsumesAdapterEvents(t *testing.T) {
	h := newHarness(t, ok("Top headlines"), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.s.Run(ctx) }()

	require.True(t, h.s.StartListening())
	h.sp.events <- speech.Event{Kind: speech.EventListenStarted}
	h.sp.events <- speech.Event{Kind: speech.EventTranscript, Text: "news please"}
	h.sp.events <- speech.Event{Kind: speech.EventListenEnded}

	assert.Eventually(t, func() bool {
		return h.log.Len() == 2 && h.s.State().Input == StatusReady
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	h.s.Close()
	assert.True(t, h.sp.closed)
}
