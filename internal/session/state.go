// Package session orchestrates speech input, command round-trips, and
// replies for one conversation.
package session

// Status is the input side of the session.
type Status string

const (
	StatusReady      Status = "ready"
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
)

// State is the full session state. Speaking is an overlay that changes
// independently of Input.
type State struct {
	Input    Status `json:"status"`
	Speaking bool   `json:"speaking"`
}

// InitialState is the state of a fresh session.
func InitialState() State {
	return State{Input: StatusReady}
}

// Busy reports whether a round-trip is in flight.
func (s State) Busy() bool {
	return s.Input == StatusProcessing
}

// Label is the status readout text.
func (s State) Label() string {
	switch {
	case s.Input == StatusListening:
		return "Listening..."
	case s.Input == StatusProcessing:
		return "Processing..."
	case s.Speaking:
		return "Speaking..."
	default:
		return "Ready"
	}
}

// Trigger is an input to Transition.
type Trigger string

const (
	TriggerListen           Trigger = "listen"
	TriggerTranscript       Trigger = "transcript"
	TriggerRecognitionError Trigger = "recognition_error"
	TriggerListenEnded      Trigger = "listen_ended"
	TriggerSubmit           Trigger = "submit"
	TriggerResolved         Trigger = "resolved"
	TriggerSpeechStarted    Trigger = "speech_started"
	TriggerSpeechEnded      Trigger = "speech_ended"
)

// Transition returns the state after t. The bool is false when t does not
// apply in s, in which case s is returned unchanged.
//
//	Ready      --listen-->                 Listening
//	Ready      --submit|transcript-->      Processing
//	Listening  --submit|transcript-->      Processing
//	Listening  --listen_ended|rec_error--> Ready
//	Processing --resolved-->               Ready
//
// Speech start and end only toggle Speaking.
func Transition(s State, t Trigger) (State, bool) {
	switch t {
	case TriggerListen:
		if s.Input != StatusReady {
			return s, false
		}
		s.Input = StatusListening

	case TriggerSubmit, TriggerTranscript:
		if s.Input == StatusProcessing {
			return s, false
		}
		s.Input = StatusProcessing

	case TriggerListenEnded, TriggerRecognitionError:
		// A transcript may already have moved the session on.
		if s.Input != StatusListening {
			return s, false
		}
		s.Input = StatusReady

	case TriggerResolved:
		if s.Input != StatusProcessing {
			return s, false
		}
		s.Input = StatusReady

	case TriggerSpeechStarted:
		s.Speaking = true

	case TriggerSpeechEnded:
		s.Speaking = false

	default:
		return s, false
	}
	return s, true
}
