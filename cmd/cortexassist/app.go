package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/normanking/cortexassist/internal/bus"
	"github.com/normanking/cortexassist/internal/config"
	"github.com/normanking/cortexassist/internal/conversation"
	"github.com/normanking/cortexassist/internal/gateway"
	"github.com/normanking/cortexassist/internal/logging"
	"github.com/normanking/cortexassist/internal/metrics"
	"github.com/normanking/cortexassist/internal/reminders"
	"github.com/normanking/cortexassist/internal/session"
	"github.com/normanking/cortexassist/internal/speech"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app is the wired object graph shared by the commands.
type app struct {
	cfg        *config.Config
	configPath string
	syslog     *logging.Logger
	bus        *bus.EventBus
	client     *gateway.Client
	log        *conversation.Log
	speech     *speech.Adapter
	session    *session.Session
	reminders  *reminders.Controller
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
}

// newApp loads configuration and wires every component. withSpeech false
// leaves the adapter without platform backends.
func newApp(flags *globalFlags, withSpeech bool) (*app, error) {
	cfg, path, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	logCfg := &logging.Config{
		LogDir:  cfg.Logging.Dir,
		Level:   logging.LogLevel(cfg.Logging.Level),
		Console: cfg.Logging.Console || flags.verbose,
	}
	syslog, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	a := &app{
		cfg:        cfg,
		configPath: path,
		syslog:     syslog,
		bus:        bus.NewEventBus(),
		log:        conversation.NewLog(),
		registry:   prometheus.NewRegistry(),
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)
	a.metrics.Subscribe(a.bus)

	a.client = gateway.NewClient(&gateway.ClientConfig{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
	}, syslog.Zerolog())
	a.client.SetObserver(a.metrics.ObserveRequest)

	var rec speech.Recognizer
	var syn speech.Synthesizer
	if withSpeech && !flags.noSpeech {
		rec = speech.NewRecognizer(cfg.Speech.RecognizerCommand, syslog.Component("speech"))
		syn, err = speech.NewSynthesizer(cfg.Speech.Synthesizer, cfg.Speech.Language, syslog.Component("speech"))
		if err != nil {
			return nil, err
		}
	}
	a.speech = speech.NewAdapter(rec, syn, speech.Options{
		Marker: cfg.Session.AssistantMarker,
		Voice:  cfg.Speech.Voice,
		Rate:   cfg.Speech.Rate,
		Pitch:  cfg.Speech.Pitch,
		Volume: cfg.Speech.Volume,
	}, syslog.Zerolog())

	a.reminders = reminders.NewController(a.client, a.log, a.bus, reminders.Options{
		Marker:            cfg.Session.AssistantMarker,
		RollbackOnFailure: cfg.Session.RollbackOnFailure,
	}, syslog.Zerolog())

	a.session = session.New(a.client, a.speech, a.reminders, a.log, a.bus, session.Options{
		Marker:   cfg.Session.AssistantMarker,
		Greeting: cfg.Session.Greeting,
	}, syslog.Zerolog())

	syslog.Info("app", "CortexAssist initialized", map[string]any{
		"backend":     cfg.Backend.BaseURL,
		"config":      path,
		"log_file":    syslog.GetLogPath(),
		"recognition": a.speech.Capabilities().RecognitionAvailable,
		"synthesis":   a.speech.Capabilities().SynthesisAvailable,
	})
	return a, nil
}

func loadConfig(flags *globalFlags) (*config.Config, string, error) {
	path, err := configPath(flags)
	if err != nil {
		return nil, "", err
	}

	var cfg *config.Config
	if flags.configPath == "" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadFromPath(path)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config %s: %w", path, err)
	}

	if flags.backendURL != "" {
		cfg.Backend.BaseURL = flags.backendURL
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	return cfg, path, nil
}

// configPath returns --config or the default file location.
func configPath(flags *globalFlags) (string, error) {
	if flags.configPath != "" {
		return flags.configPath, nil
	}
	dir, err := config.GetConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// close stops speech, drops bus subscribers, and flushes the log file.
func (a *app) close() {
	a.session.Close()
	a.bus.Clear()
	a.syslog.Close()
}

// runSession starts consuming speech events in the background.
func (a *app) runSession(ctx context.Context) {
	go func() {
		if err := a.session.Run(ctx); err != nil && ctx.Err() == nil {
			a.syslog.Error("session", "Event loop stopped", err, nil)
		}
	}()
}
