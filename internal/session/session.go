package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/normanking/cortexassist/internal/bus"
	"github.com/normanking/cortexassist/internal/conversation"
	"github.com/normanking/cortexassist/internal/gateway"
	"github.com/normanking/cortexassist/internal/speech"
	"github.com/rs/zerolog"
)

// ErrBusy is returned when a submission arrives while a round-trip is in flight.
var ErrBusy = errors.New("session busy: a request is already in progress")

// QuickReminders is the quick action that opens the reminder panel.
const QuickReminders = "reminders"

const (
	apologyGeneric     = "Sorry, I encountered an error."
	apologyRecognition = "Sorry, I couldn't understand that. Please try again."
	apologyTransport   = "Sorry, I'm having trouble connecting to my services."
)

// Round-trip outcomes reported on the bus.
const (
	OutcomeSuccess        = "success"
	OutcomeRejected       = "rejected"
	OutcomeNetworkFailure = "network_failure"
)

// Gateway is the subset of the command gateway the session calls.
type Gateway interface {
	FetchConfig(ctx context.Context) (*gateway.BackendConfig, error)
	SendCommand(ctx context.Context, text string) (*gateway.CommandResult, error)
	QuickAction(ctx context.Context, kind gateway.QuickKind) (*gateway.CommandResult, error)
	BaseURL() string
}

// Speech is the speech adapter as seen by the session.
type Speech interface {
	Capabilities() speech.Capabilities
	Events() <-chan speech.Event
	StartListening() bool
	StopListening()
	Speak(text string)
	CancelSpeech()
	Close()
}

// Reminders is the reminder controller as seen by the session.
type Reminders interface {
	Refresh(ctx context.Context) error
	OpenPanel()
}

// Options configure reply text.
type Options struct {
	// Marker prefixes every assistant reply.
	Marker string
	// Greeting is appended once by Init. "{location}" expands to
	// " configured for <city>, <country>" when the backend names a city.
	Greeting string
}

// DefaultOptions returns the stock marker and greeting.
func DefaultOptions() Options {
	return Options{
		Marker:   "🤖 Assistant:",
		Greeting: "Hello! I'm your voice assistant{location}. How can I help you today?",
	}
}

// Session is the conversation state machine. It turns typed text, voice
// transcripts, and quick actions into gateway round-trips and fans replies
// out to the log, the speech adapter, and the reminder controller.
type Session struct {
	gw     Gateway
	sp     Speech
	rem    Reminders
	log    *conversation.Log
	bus    *bus.EventBus
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	backend *gateway.BackendConfig
}

// New creates a session. rem may be nil when reminders are not wired.
func New(gw Gateway, sp Speech, rem Reminders, log *conversation.Log, eventBus *bus.EventBus, opts Options, logger zerolog.Logger) *Session {
	if opts.Marker == "" {
		opts.Marker = DefaultOptions().Marker
	}
	if eventBus == nil {
		eventBus = bus.NewEventBus()
	}

	s := &Session{
		gw:     gw,
		sp:     sp,
		rem:    rem,
		log:    log,
		bus:    eventBus,
		opts:   opts,
		logger: logger.With().Str("component", "session").Logger(),
		state:  InitialState(),
	}

	log.SetAppendHandler(func(e conversation.Entry) {
		s.bus.PublishSync(bus.Event{
			Type: bus.EventTypeMessageAppended,
			Data: map[string]any{"entry": e},
		})
	})
	return s
}

// Init fetches the backend configuration and appends the greeting. Calling
// it again never produces a second greeting.
func (s *Session) Init(ctx context.Context) {
	cfg, err := s.gw.FetchConfig(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to fetch backend config")
	} else {
		s.mu.Lock()
		s.backend = cfg
		s.mu.Unlock()
		s.bus.Publish(bus.Event{
			Type: bus.EventTypeBackendConfig,
			Data: map[string]any{"config": cfg},
		})
	}

	if s.opts.Greeting == "" {
		return
	}
	if _, ok := s.log.AppendGreetingOnce(s.reply(s.greeting(cfg))); ok {
		s.logger.Debug().Msg("Greeting appended")
	}
}

func (s *Session) greeting(cfg *gateway.BackendConfig) string {
	location := ""
	if cfg != nil && cfg.DefaultCity != "" {
		location = " configured for " + cfg.DefaultCity
		if cfg.DefaultCountry != "" {
			location += ", " + cfg.DefaultCountry
		}
	}
	return strings.ReplaceAll(s.opts.Greeting, "{location}", location)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Backend returns the configuration fetched by Init, or nil.
func (s *Session) Backend() *gateway.BackendConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// Capabilities reports which speech affordances the caller should show.
func (s *Session) Capabilities() speech.Capabilities {
	return s.sp.Capabilities()
}

// Submit sends typed text as a command and blocks until the reply has been
// appended and handed to speech. Empty text is ignored. A submission while
// another is in flight returns ErrBusy.
func (s *Session) Submit(ctx context.Context, text string) error {
	run, err := s.beginSubmission(text, TriggerSubmit)
	if err != nil || run == nil {
		return err
	}
	run(ctx)
	return nil
}

// beginSubmission moves the session to Processing and appends the user
// entry. The returned func performs the round-trip; it is nil when text is
// empty.
func (s *Session) beginSubmission(text string, t Trigger) (func(context.Context), error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	prev, err := s.enterProcessing(t)
	if err != nil {
		return nil, err
	}
	if prev.Input == StatusListening {
		s.sp.StopListening()
	}

	s.log.AppendUser(text)
	return func(ctx context.Context) {
		s.roundTrip(ctx, "command", s.commandApology(), func(ctx context.Context) (*gateway.CommandResult, error) {
			return s.gw.SendCommand(ctx, text)
		})
	}, nil
}

// QuickAction runs one of time, weather, news, or reminders. The reminders
// action opens the panel and refreshes it without a round-trip.
func (s *Session) QuickAction(ctx context.Context, action string) error {
	action = strings.ToLower(strings.TrimSpace(action))
	if action == QuickReminders {
		if s.rem == nil {
			return nil
		}
		s.rem.OpenPanel()
		if err := s.rem.Refresh(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Reminder refresh failed")
		}
		return nil
	}

	kind := gateway.QuickKind(action)
	if !kind.Valid() {
		return fmt.Errorf("unknown quick action %q", action)
	}

	prev, err := s.enterProcessing(TriggerSubmit)
	if err != nil {
		return err
	}
	if prev.Input == StatusListening {
		s.sp.StopListening()
	}

	s.roundTrip(ctx, action, apologyTransport, func(ctx context.Context) (*gateway.CommandResult, error) {
		return s.gw.QuickAction(ctx, kind)
	})
	return nil
}

// StartListening begins voice capture. It returns false when recognition is
// unavailable or the session is not Ready.
func (s *Session) StartListening() bool {
	s.mu.Lock()
	next, ok := Transition(s.state, TriggerListen)
	if !ok || !s.sp.StartListening() {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.mu.Unlock()

	s.publishState(next)
	return true
}

// StopListening asks the adapter to stop; the end of capture arrives as an event.
func (s *Session) StopListening() {
	s.sp.StopListening()
}

// StopSpeaking cancels the current utterance.
func (s *Session) StopSpeaking() {
	s.sp.CancelSpeech()
}

// Run consumes adapter events until ctx is done or the channel closes.
// Transcripts are processed in their own goroutine so speech events keep
// flowing during the round-trip.
func (s *Session) Run(ctx context.Context) error {
	events := s.sp.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if run := s.handle(ev); run != nil {
				go run(ctx)
			}
		}
	}
}

// Dispatch applies one adapter event synchronously, including any
// round-trip a transcript starts.
func (s *Session) Dispatch(ctx context.Context, ev speech.Event) {
	if run := s.handle(ev); run != nil {
		run(ctx)
	}
}

func (s *Session) handle(ev speech.Event) func(context.Context) {
	switch ev.Kind {
	case speech.EventListenStarted:
		s.bus.PublishSync(bus.Event{Type: bus.EventTypeListeningStarted})

	case speech.EventTranscript:
		s.bus.PublishSync(bus.Event{
			Type: bus.EventTypeTranscript,
			Data: map[string]any{"text": ev.Text},
		})
		run, err := s.beginSubmission(ev.Text, TriggerTranscript)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Transcript dropped")
		}
		return run

	case speech.EventRecognitionError:
		s.apply(TriggerRecognitionError)
		s.log.AppendAssistant(s.reply(apologyRecognition))

	case speech.EventListenEnded:
		s.apply(TriggerListenEnded)
		s.bus.PublishSync(bus.Event{Type: bus.EventTypeListeningStopped})

	case speech.EventSpeechStarted:
		s.apply(TriggerSpeechStarted)
		s.bus.PublishSync(bus.Event{
			Type: bus.EventTypeSpeakingStarted,
			Data: map[string]any{"utterance": ev.Utterance},
		})

	case speech.EventSpeechEnded:
		s.apply(TriggerSpeechEnded)
		data := map[string]any{"utterance": ev.Utterance, "interrupted": ev.Interrupted}
		if ev.Err != nil {
			data["error"] = ev.Err.Error()
		}
		s.bus.PublishSync(bus.Event{Type: bus.EventTypeSpeakingStopped, Data: data})
	}
	return nil
}

// Close cancels speech and capture.
func (s *Session) Close() {
	s.sp.Close()
}

func (s *Session) enterProcessing(t Trigger) (State, error) {
	s.mu.Lock()
	prev := s.state
	next, ok := Transition(prev, t)
	if !ok {
		s.mu.Unlock()
		s.bus.PublishSync(bus.Event{Type: bus.EventTypeBusy})
		return prev, ErrBusy
	}
	s.state = next
	s.mu.Unlock()

	s.logger.Debug().Str("from", string(prev.Input)).Str("trigger", string(t)).Msg("Processing")
	s.publishState(next)
	return prev, nil
}

// apply runs a transition and publishes the result when it applied.
func (s *Session) apply(t Trigger) {
	s.mu.Lock()
	next, ok := Transition(s.state, t)
	if ok {
		s.state = next
	}
	s.mu.Unlock()

	if ok {
		s.publishState(next)
	}
}

func (s *Session) publishState(st State) {
	s.bus.PublishSync(bus.Event{
		Type: bus.EventTypeStatusChanged,
		Data: map[string]any{
			"status":    string(st.Input),
			"speaking":  st.Speaking,
			"label":     st.Label(),
			"isLoading": st.Busy(),
		},
	})
}

// roundTrip performs one gateway call and produces exactly one reply. The
// session is Ready again when it returns.
func (s *Session) roundTrip(ctx context.Context, kind, transportApology string, call func(context.Context) (*gateway.CommandResult, error)) {
	start := time.Now()
	outcome := OutcomeNetworkFailure
	defer func() {
		s.apply(TriggerResolved)
		s.bus.PublishSync(bus.Event{
			Type: bus.EventTypeRoundTrip,
			Data: map[string]any{
				"kind":     kind,
				"outcome":  outcome,
				"duration": time.Since(start),
			},
		})
	}()

	res, err := call(ctx)
	switch {
	case err == nil:
		outcome = OutcomeSuccess
		s.respond(res.Response)
		if res.AffectsReminders() && s.rem != nil {
			if err := s.rem.Refresh(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("Reminder refresh after command failed")
			}
		}

	case errors.Is(err, gateway.ErrServerRejected):
		outcome = OutcomeRejected
		msg, _ := gateway.RejectionMessage(err)
		if msg == "" {
			msg = apologyGeneric
		}
		s.logger.Info().Str("kind", kind).Str("message", msg).Msg("Backend rejected request")
		s.respond(msg)

	default:
		s.logger.Warn().Err(err).Str("kind", kind).Msg("Backend unreachable")
		s.respond(transportApology)
	}
}

// respond appends the assistant entry and speaks it.
func (s *Session) respond(text string) {
	content := s.reply(text)
	s.log.AppendAssistant(content)
	s.sp.Speak(content)
}

func (s *Session) reply(text string) string {
	return s.opts.Marker + " " + text
}

// commandApology names where the backend was expected.
func (s *Session) commandApology() string {
	return apologyTransport + " Please make sure the backend is running on " + gateway.Origin(s.gw.BaseURL())
}
