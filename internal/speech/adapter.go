package speech

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options tune the adapter.
type Options struct {
	// Marker is stripped from text before synthesis.
	Marker string
	// Voice is a preferred voice ID or name.
	Voice  string
	Rate   float64
	Pitch  float64
	Volume float64
	// EventBuffer sizes the events channel (default 64).
	EventBuffer int
}

// DefaultOptions mirror the browser utterance settings the assistant used.
func DefaultOptions() Options {
	return Options{
		Marker:      "🤖 Assistant:",
		Rate:        0.9,
		Pitch:       1.0,
		Volume:      0.8,
		EventBuffer: 64,
	}
}

type utterance struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Adapter owns the platform speech engines. At most one utterance plays at a
// time and at most one capture runs at a time. When a capability is missing
// the matching operations are silent no-ops.
type Adapter struct {
	rec    Recognizer
	syn    Synthesizer
	opts   Options
	caps   Capabilities
	logger zerolog.Logger

	events chan Event
	closed chan struct{}
	once   sync.Once

	mu           sync.Mutex
	listening    bool
	listenCancel context.CancelFunc
	current      *utterance
	seq          uint64

	voiceOnce sync.Once
	voice     *Voice
}

// NewAdapter probes rec and syn once. Either may be nil.
func NewAdapter(rec Recognizer, syn Synthesizer, opts Options, logger zerolog.Logger) *Adapter {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}

	a := &Adapter{
		rec:    rec,
		syn:    syn,
		opts:   opts,
		logger: logger.With().Str("component", "speech").Logger(),
		events: make(chan Event, opts.EventBuffer),
		closed: make(chan struct{}),
	}
	a.caps = a.detectCapabilities()

	a.logger.Info().
		Bool("recognition", a.caps.RecognitionAvailable).
		Bool("synthesis", a.caps.SynthesisAvailable).
		Msg("Speech capabilities detected")
	return a
}

func (a *Adapter) detectCapabilities() Capabilities {
	var caps Capabilities
	if a.rec != nil {
		caps.RecognitionAvailable = a.rec.Available()
	}
	if a.syn != nil {
		caps.SynthesisAvailable = a.syn.Available()
	}
	return caps
}

// Capabilities returns what was detected at construction.
func (a *Adapter) Capabilities() Capabilities {
	return a.caps
}

// Events delivers lifecycle events in the order they happened.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// Listening reports whether a capture is running.
func (a *Adapter) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listening
}

// Speaking reports whether an utterance is queued or playing.
func (a *Adapter) Speaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil
}

// StartListening begins one capture. It returns false, doing nothing, when
// recognition is unavailable, a capture is already running, or the adapter
// is closed.
func (a *Adapter) StartListening() bool {
	if !a.caps.RecognitionAvailable || a.isClosed() {
		return false
	}

	a.mu.Lock()
	if a.listening {
		a.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.listening = true
	a.listenCancel = cancel
	a.mu.Unlock()

	go a.listen(ctx, cancel)
	return true
}

func (a *Adapter) listen(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	a.emit(Event{Kind: EventListenStarted})
	text, err := a.rec.Listen(ctx)

	a.mu.Lock()
	a.listening = false
	a.listenCancel = nil
	a.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		a.logger.Debug().Msg("Listening cancelled")
	case err != nil:
		a.logger.Warn().Err(err).Msg("Speech recognition error")
		a.emit(Event{Kind: EventRecognitionError, Err: err})
	case text != "":
		a.emit(Event{Kind: EventTranscript, Text: text})
	}
	a.emit(Event{Kind: EventListenEnded})
}

// StopListening asks the platform to stop capturing. The capture reports
// its end through EventListenEnded.
func (a *Adapter) StopListening() {
	a.mu.Lock()
	cancel := a.listenCancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Speak cancels any utterance in flight, waits for it to end, then starts
// speaking text. Markers and symbols are removed first.
func (a *Adapter) Speak(text string) {
	if !a.caps.SynthesisAvailable || a.isClosed() {
		return
	}
	clean := CleanText(text, a.opts.Marker)
	if clean == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	prev := a.current
	a.seq++
	u := &utterance{id: a.seq, cancel: cancel, done: make(chan struct{})}
	a.current = u
	a.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	go a.play(ctx, u, Utterance{
		Text:   clean,
		Voice:  a.pickVoice(),
		Rate:   a.opts.Rate,
		Pitch:  a.opts.Pitch,
		Volume: a.opts.Volume,
	})
}

func (a *Adapter) play(ctx context.Context, u *utterance, req Utterance) {
	defer close(u.done)
	defer u.cancel()

	if ctx.Err() != nil {
		a.release(u)
		return
	}

	a.emit(Event{Kind: EventSpeechStarted, Utterance: u.id})
	err := a.syn.Speak(ctx, req)
	interrupted := ctx.Err() != nil
	a.release(u)

	end := Event{Kind: EventSpeechEnded, Utterance: u.id, Interrupted: interrupted}
	if err != nil && !interrupted {
		a.logger.Warn().Err(err).Uint64("utterance", u.id).Msg("Speech synthesis failed")
		end.Err = err
	}
	a.emit(end)
}

func (a *Adapter) release(u *utterance) {
	a.mu.Lock()
	if a.current == u {
		a.current = nil
	}
	a.mu.Unlock()
}

// CancelSpeech stops the current utterance, if any.
func (a *Adapter) CancelSpeech() {
	a.mu.Lock()
	u := a.current
	a.mu.Unlock()

	if u != nil {
		u.cancel()
	}
}

// Close cancels speech and capture. Further operations are no-ops.
func (a *Adapter) Close() {
	a.once.Do(func() {
		close(a.closed)
		a.StopListening()
		a.mu.Lock()
		u := a.current
		a.mu.Unlock()
		if u != nil {
			u.cancel()
			<-u.done
		}
	})
}

func (a *Adapter) isClosed() bool {
	select {
	case <-a.closed:
		return true
	default:
		return false
	}
}

// pickVoice resolves the voice once; later calls reuse it.
func (a *Adapter) pickVoice() *Voice {
	a.voiceOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		voices, err := a.syn.Voices(ctx)
		if err != nil {
			a.logger.Debug().Err(err).Msg("Voice list unavailable, using platform default")
			return
		}
		a.voice = PickVoice(voices, a.opts.Voice)
		if a.voice != nil {
			a.logger.Debug().Str("voice", a.voice.Name).Msg("Voice selected")
		}
	})
	return a.voice
}

func (a *Adapter) emit(ev Event) {
	select {
	case a.events <- ev:
	case <-a.closed:
	}
}
