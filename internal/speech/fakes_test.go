package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRecognizer returns queued results; a result with block set waits for ctx.
type fakeRecognizer struct {
	available bool
	text      string
	err       error
	block     bool
	started   chan struct{}
}

func (f *fakeRecognizer) Name() string    { return "fake" }
func (f *fakeRecognizer) Available() bool { return f.available }

func (f *fakeRecognizer) Listen(ctx context.Context) (string, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

// fakeSynthesizer blocks each Speak until ctx ends or release is closed.
type fakeSynthesizer struct {
	available bool
	voices    []Voice
	release   chan struct{}
	err       error

	mu     sync.Mutex
	spoken []Utterance
}

func newFakeSynthesizer() *fakeSynthesizer {
	return &fakeSynthesizer{available: true, release: make(chan struct{})}
}

func (f *fakeSynthesizer) Name() string    { return "fake" }
func (f *fakeSynthesizer) Available() bool { return f.available }

func (f *fakeSynthesizer) Voices(context.Context) ([]Voice, error) {
	if f.voices == nil {
		return nil, errors.New("no voices")
	}
	return f.voices, nil
}

func (f *fakeSynthesizer) Speak(ctx context.Context, u Utterance) error {
	f.mu.Lock()
	f.spoken = append(f.spoken, u)
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.release:
		return f.err
	}
}

func (f *fakeSynthesizer) utterances() []Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Utterance(nil), f.spoken...)
}

func nextEvent(t *testing.T, a *Adapter) Event {
	t.Helper()
	select {
	case ev := <-a.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for speech event")
		return Event{}
	}
}

func requireNoEvent(t *testing.T, a *Adapter) {
	t.Helper()
	select {
	case ev := <-a.Events():
		require.Failf(t, "unexpected event", "%+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
