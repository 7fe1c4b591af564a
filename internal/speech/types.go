// Package speech wraps platform speech recognition and synthesis behind a
// capability-checked adapter that reports progress as events on a channel.
package speech

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrUnsupported = errors.New("speech capability unavailable")
)

// Recognizer captures a single utterance from the platform.
type Recognizer interface {
	// Name returns the backend identifier
	Name() string

	// Available reports whether the platform can recognize speech
	Available() bool

	// Listen blocks until one utterance has been captured. It returns the
	// final transcript, or "" when capture ended without a result. Cancelling
	// ctx stops capture; that is not an error.
	Listen(ctx context.Context) (string, error)
}

// Synthesizer plays text through the platform's speech engine.
type Synthesizer interface {
	// Name returns the backend identifier
	Name() string

	// Available reports whether the platform can synthesize speech
	Available() bool

	// Voices lists the installed voices
	Voices(ctx context.Context) ([]Voice, error)

	// Speak blocks until playback finishes. Cancelling ctx stops playback.
	Speak(ctx context.Context, u Utterance) error
}

// Capabilities is probed once when the adapter is created.
type Capabilities struct {
	RecognitionAvailable bool `json:"recognitionAvailable"`
	SynthesisAvailable   bool `json:"synthesisAvailable"`
}

// Voice represents an installed synthesis voice
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender"` // male, female, or empty when unknown
}

// Utterance is one request to speak.
type Utterance struct {
	Text   string
	Voice  *Voice // nil means platform default
	Rate   float64
	Pitch  float64
	Volume float64
}

// EventKind identifies a speech lifecycle event
type EventKind string

const (
	EventListenStarted    EventKind = "listen_started"
	EventTranscript       EventKind = "transcript"
	EventRecognitionError EventKind = "recognition_error"
	EventListenEnded      EventKind = "listen_ended"
	EventSpeechStarted    EventKind = "speech_started"
	EventSpeechEnded      EventKind = "speech_ended"
)

// Event is emitted by the adapter as recognition and synthesis progress.
type Event struct {
	Kind EventKind
	// Text carries the transcript for EventTranscript.
	Text string
	// Err carries the platform failure for EventRecognitionError and a
	// failed EventSpeechEnded.
	Err error
	// Utterance numbers speech events so a consumer can pair start and end.
	Utterance uint64
	// Interrupted is set on EventSpeechEnded when playback was cancelled.
	Interrupted bool
}
