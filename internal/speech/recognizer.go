package speech

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// CommandRecognizer delegates capture to an external speech-to-text command
// that records one utterance and prints its transcript on stdout, for
// example a whisper.cpp stream wrapper. The last non-empty line is used.
type CommandRecognizer struct {
	logger zerolog.Logger
	run    runner
	look   func(string) (string, error)
	argv   []string
}

// NewCommandRecognizer parses command into argv. An empty command yields an
// unavailable recognizer.
func NewCommandRecognizer(command string, logger zerolog.Logger) *CommandRecognizer {
	return &CommandRecognizer{
		logger: logger.With().Str("provider", "command-stt").Logger(),
		run:    execRunner,
		look:   exec.LookPath,
		argv:   strings.Fields(command),
	}
}

// Name returns the provider identifier
func (r *CommandRecognizer) Name() string {
	return "command"
}

// Available reports whether the configured command exists
func (r *CommandRecognizer) Available() bool {
	if len(r.argv) == 0 {
		return false
	}
	_, err := r.look(r.argv[0])
	return err == nil
}

// Listen runs the command once.
func (r *CommandRecognizer) Listen(ctx context.Context) (string, error) {
	if len(r.argv) == 0 {
		return "", ErrUnsupported
	}

	r.logger.Debug().Strs("argv", r.argv).Msg("Starting capture")
	out, err := r.run(ctx, r.argv[0], r.argv[1:]...)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		return "", fmt.Errorf("recognizer %s: %w", r.argv[0], err)
	}
	return lastLine(string(out)), nil
}

func lastLine(out string) string {
	last := ""
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	return last
}
