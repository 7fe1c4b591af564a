package speech

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

// runner executes a platform command and returns its stdout.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// sayBaseRate is the words-per-minute `say` uses at rate 1.0.
const sayBaseRate = 175

// macOSFemaleVoices are the system voices known to be female.
var macOSFemaleVoices = map[string]bool{
	"Samantha": true, "Karen": true, "Victoria": true, "Zoe": true,
	"Serena": true, "Fiona": true, "Moira": true, "Tessa": true,
}

// SaySynthesizer speaks through the macOS `say` command.
type SaySynthesizer struct {
	logger zerolog.Logger
	run    runner
	goos   string
	look   func(string) (string, error)
}

// NewSaySynthesizer creates a synthesizer backed by `say`.
func NewSaySynthesizer(logger zerolog.Logger) *SaySynthesizer {
	return &SaySynthesizer{
		logger: logger.With().Str("provider", "say").Logger(),
		run:    execRunner,
		goos:   runtime.GOOS,
		look:   exec.LookPath,
	}
}

// Name returns the provider identifier
func (s *SaySynthesizer) Name() string {
	return "say"
}

// Available checks if this is macOS and the 'say' command exists
func (s *SaySynthesizer) Available() bool {
	if s.goos != "darwin" {
		return false
	}
	_, err := s.look("say")
	return err == nil
}

// Voices parses `say -v ?`.
func (s *SaySynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	out, err := s.run(ctx, "say", "-v", "?")
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	return parseSayVoices(string(out)), nil
}

// parseSayVoices reads lines such as
//
//	Samantha            en_US    # Hello! My name is Samantha.
//	Bad News            en_US    # The light you see at the end of the tunnel...
func parseSayVoices(out string) []Voice {
	var voices []Voice
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		lang := fields[len(fields)-1]
		name := strings.Join(fields[:len(fields)-1], " ")

		gender := ""
		if macOSFemaleVoices[name] {
			gender = "female"
		}
		voices = append(voices, Voice{ID: name, Name: name, Language: lang, Gender: gender})
	}
	return voices
}

// Speak runs `say` until it finishes or ctx is cancelled.
func (s *SaySynthesizer) Speak(ctx context.Context, u Utterance) error {
	args := s.args(u)

	s.logger.Debug().
		Strs("args", args[:len(args)-1]).
		Int("textLen", len(u.Text)).
		Msg("Speaking with say")

	if _, err := s.run(ctx, "say", args...); err != nil {
		return fmt.Errorf("say command failed: %w", err)
	}
	return nil
}

func (s *SaySynthesizer) args(u Utterance) []string {
	var args []string
	if u.Voice != nil {
		args = append(args, "-v", u.Voice.ID)
	}
	if u.Rate > 0 && u.Rate != 1 {
		args = append(args, "-r", fmt.Sprintf("%d", int(sayBaseRate*u.Rate)))
	}

	text := u.Text
	// say has no volume flag; it honours embedded speech commands instead.
	if u.Volume > 0 && u.Volume < 1 {
		text = fmt.Sprintf("[[volm %.2f]] %s", u.Volume, text)
	}
	return append(args, text)
}
