package speech

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// NewSynthesizer selects a synthesis backend by name: auto, say, espeak or
// none. auto prefers `say` and falls back to espeak. A nil Synthesizer means
// synthesis is unavailable.
func NewSynthesizer(name, language string, logger zerolog.Logger) (Synthesizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		if say := NewSaySynthesizer(logger); say.Available() {
			return say, nil
		}
		if es := NewEspeakSynthesizer(language, logger); es.Available() {
			return es, nil
		}
		return nil, nil
	case "say":
		return NewSaySynthesizer(logger), nil
	case "espeak", "espeak-ng":
		return NewEspeakSynthesizer(language, logger), nil
	case "none", "off":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown synthesizer %q", name)
	}
}

// NewRecognizer returns a command recognizer, or nil when command is empty.
func NewRecognizer(command string, logger zerolog.Logger) Recognizer {
	if strings.TrimSpace(command) == "" {
		return nil
	}
	return NewCommandRecognizer(command, logger)
}
