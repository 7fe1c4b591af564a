package speech

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// EspeakSynthesizer speaks through espeak-ng (or classic espeak) on Linux.
type EspeakSynthesizer struct {
	logger   zerolog.Logger
	run      runner
	look     func(string) (string, error)
	binary   string
	language string
}

// NewEspeakSynthesizer creates a synthesizer for voices matching language (e.g. "en").
func NewEspeakSynthesizer(language string, logger zerolog.Logger) *EspeakSynthesizer {
	s := &EspeakSynthesizer{
		logger:   logger.With().Str("provider", "espeak").Logger(),
		run:      execRunner,
		look:     exec.LookPath,
		language: strings.ToLower(strings.SplitN(language, "-", 2)[0]),
	}
	s.binary = s.resolve()
	return s
}

func (s *EspeakSynthesizer) resolve() string {
	for _, bin := range []string{"espeak-ng", "espeak"} {
		if _, err := s.look(bin); err == nil {
			return bin
		}
	}
	return ""
}

// Name returns the provider identifier
func (s *EspeakSynthesizer) Name() string {
	return "espeak"
}

// Available reports whether an espeak binary is on PATH
func (s *EspeakSynthesizer) Available() bool {
	return s.binary != ""
}

// Voices parses `espeak-ng --voices=<lang>`.
func (s *EspeakSynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	if !s.Available() {
		return nil, ErrUnsupported
	}
	arg := "--voices"
	if s.language != "" {
		arg += "=" + s.language
	}
	out, err := s.run(ctx, s.binary, arg)
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	return parseEspeakVoices(string(out)), nil
}

// parseEspeakVoices reads the tabular listing:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US            (en 10)
func parseEspeakVoices(out string) []Voice {
	var voices []Voice
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 || fields[0] == "Pty" {
			continue
		}

		gender := ""
		if _, g, ok := strings.Cut(fields[2], "/"); ok {
			switch g {
			case "F":
				gender = "female"
			case "M":
				gender = "male"
			}
		}
		voices = append(voices, Voice{
			ID:       fields[4],
			Name:     strings.ReplaceAll(fields[3], "_", " "),
			Language: fields[1],
			Gender:   gender,
		})
	}
	return voices
}

// Speak runs espeak until it finishes or ctx is cancelled.
func (s *EspeakSynthesizer) Speak(ctx context.Context, u Utterance) error {
	if !s.Available() {
		return ErrUnsupported
	}
	args := s.args(u)

	s.logger.Debug().
		Strs("args", args[:len(args)-1]).
		Int("textLen", len(u.Text)).
		Msg("Speaking with espeak")

	if _, err := s.run(ctx, s.binary, args...); err != nil {
		return fmt.Errorf("%s failed: %w", s.binary, err)
	}
	return nil
}

func (s *EspeakSynthesizer) args(u Utterance) []string {
	var args []string
	switch {
	case u.Voice != nil:
		args = append(args, "-v", u.Voice.ID)
	case s.language != "":
		args = append(args, "-v", s.language)
	}
	if u.Rate > 0 {
		args = append(args, "-s", strconv.Itoa(int(sayBaseRate*u.Rate)))
	}
	if u.Pitch > 0 {
		args = append(args, "-p", strconv.Itoa(min(int(50*u.Pitch), 99)))
	}
	if u.Volume > 0 {
		args = append(args, "-a", strconv.Itoa(int(100*u.Volume)))
	}
	return append(args, "--", u.Text)
}
