package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/normanking/cortexassist/internal/bus"
	"github.com/normanking/cortexassist/internal/conversation"
	"github.com/normanking/cortexassist/internal/session"
	"github.com/spf13/cobra"
)

const chatHelp = `Commands:
  /voice      speak a command
  /time       current time
  /weather    current weather
  /news       top headlines
  /reminders  show reminders
  /stop       stop speaking
  /quit       leave
Press Ctrl+C while the assistant is speaking to interrupt it.`

func newChatCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long:  "Chat with the assistant by typing, or use /voice to speak. Replies are spoken when synthesis is available.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, true)
			if err != nil {
				return err
			}
			defer a.close()

			if key := strings.ToLower(a.cfg.Speech.InterruptKey); key != "" && key != "ctrl+c" {
				a.syslog.Warn("chat", "Only ctrl+c is supported as the interrupt key", map[string]any{"configured": key})
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			return runChat(ctx, cancel, a, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runChat(ctx context.Context, cancel context.CancelFunc, a *app, in io.Reader, out io.Writer) error {
	a.bus.Subscribe(bus.EventTypeMessageAppended, func(e bus.Event) {
		entry, ok := e.Data["entry"].(conversation.Entry)
		if ok && entry.Sender == conversation.SenderAssistant {
			fmt.Fprintln(out, renderEntry(entry))
		}
	})
	a.bus.Subscribe(bus.EventTypeTranscript, func(e bus.Event) {
		text, _ := e.Data["text"].(string)
		fmt.Fprintln(out, userStyle.Render("You (voice):")+" "+text)
	})
	a.bus.SubscribeMultiple([]bus.EventType{bus.EventTypeListeningStarted, bus.EventTypeListeningStopped}, func(e bus.Event) {
		if e.Type == bus.EventTypeListeningStarted {
			fmt.Fprintln(out, statusStyle.Render("Listening..."))
			return
		}
		fmt.Fprintln(out, dimStyle.Render("Stopped listening."))
	})

	a.runSession(ctx)
	a.session.Init(ctx)

	caps := a.session.Capabilities()
	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("Backend %s · voice input %s · speech %s · /help for commands",
		a.client.BaseURL(), onOff(caps.RecognitionAvailable), onOff(caps.SynthesisAvailable))))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go interruptLoop(ctx, cancel, a.session, sigCh)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, a, out, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// interruptLoop maps Ctrl+C onto the innermost running activity: speech
// first, then capture, otherwise leave the chat.
func interruptLoop(ctx context.Context, cancel context.CancelFunc, s *session.Session, sigCh <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			st := s.State()
			switch {
			case sig == os.Interrupt && st.Speaking:
				s.StopSpeaking()
			case sig == os.Interrupt && st.Input == session.StatusListening:
				s.StopListening()
			default:
				cancel()
				return
			}
		}
	}
}

func handleLine(ctx context.Context, a *app, out io.Writer, line string) (quit bool) {
	switch line {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(out, dimStyle.Render(chatHelp))
	case "/stop":
		a.session.StopSpeaking()
	case "/voice":
		if !a.session.StartListening() {
			fmt.Fprintln(out, errorStyle.Render("Voice input is unavailable right now."))
		}
	case "/time", "/weather", "/news":
		report(out, a.session.QuickAction(ctx, strings.TrimPrefix(line, "/")))
	case "/reminders":
		report(out, a.session.QuickAction(ctx, session.QuickReminders))
		fmt.Fprintln(out, renderReminders(a.reminders.Reminders()))
	default:
		if strings.HasPrefix(line, "/") {
			fmt.Fprintln(out, errorStyle.Render("Unknown command "+line+", try /help"))
			return false
		}
		report(out, a.session.Submit(ctx, line))
	}
	return false
}

func report(out io.Writer, err error) {
	switch {
	case err == nil:
	case errors.Is(err, session.ErrBusy):
		fmt.Fprintln(out, statusStyle.Render("Still working on the previous request..."))
	default:
		fmt.Fprintln(out, errorStyle.Render(err.Error()))
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func newAskCmd(flags *globalFlags) *cobra.Command {
	var speak bool

	cmd := &cobra.Command{
		Use:   "ask [text...]",
		Short: "Send one command and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(cmd, flags, speak, func(ctx context.Context, s *session.Session) error {
				return s.Submit(ctx, strings.Join(args, " "))
			})
		},
	}
	cmd.Flags().BoolVar(&speak, "speak", false, "also speak the reply")
	return cmd
}

func newQuickCmd(flags *globalFlags) *cobra.Command {
	var speak bool

	cmd := &cobra.Command{
		Use:       "quick [time|weather|news]",
		Short:     "Run a quick action",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"time", "weather", "news"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(cmd, flags, speak, func(ctx context.Context, s *session.Session) error {
				return s.QuickAction(ctx, args[0])
			})
		},
	}
	cmd.Flags().BoolVar(&speak, "speak", false, "also speak the reply")
	return cmd
}

// oneShot runs fn and prints the assistant reply. With speak set it waits
// for playback to finish.
func oneShot(cmd *cobra.Command, flags *globalFlags, speak bool, fn func(context.Context, *session.Session) error) error {
	a, err := newApp(flags, speak)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	a.runSession(ctx)

	spoken := make(chan struct{}, 1)
	a.bus.Subscribe(bus.EventTypeSpeakingStopped, func(bus.Event) {
		select {
		case spoken <- struct{}{}:
		default:
		}
	})

	if err := fn(ctx, a.session); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if last, ok := a.log.Last(); ok && last.Sender == conversation.SenderAssistant {
		fmt.Fprintln(out, last.Content)
	}

	if speak && a.session.Capabilities().SynthesisAvailable {
		select {
		case <-spoken:
		case <-ctx.Done():
		case <-time.After(2 * time.Minute):
		}
	}
	return nil
}
