package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/normanking/cortexassist/internal/bridge"
	"github.com/normanking/cortexassist/internal/config"
	"github.com/normanking/cortexassist/internal/reminders"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the session to a local UI over WebSocket",
		Long: `Runs the assistant session and serves it on a WebSocket bridge so a
browser or desktop front end can render the conversation, the status
indicator and the reminders panel. Prometheus metrics are served alongside.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, true)
			if err != nil {
				return err
			}
			defer a.close()

			if listen != "" {
				a.cfg.Bridge.Listen = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a, cmd)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (overrides bridge.listen)")
	return cmd
}

func serve(ctx context.Context, a *app, cmd *cobra.Command) error {
	a.runSession(ctx)
	a.session.Init(ctx)

	hub := bridge.NewHub(a.session, a.reminders, a.log, a.bus, a.syslog.Component("bridge"))
	hub.AttachLogs(a.syslog)
	defer hub.Close()

	if a.cfg.Reminders.AutoRefresh {
		poller, err := reminders.NewPoller(a.cfg.Reminders.RefreshSchedule, a.reminders, a.reminders.PanelOpen,
			a.cfg.Backend.Timeout, a.syslog.Zerolog())
		if err != nil {
			return err
		}
		poller.Start()
		defer poller.Stop()
	}

	stopWatch := config.Watch(a.configPath, func(cfg *config.Config, err error) {
		if err != nil {
			a.syslog.Warn("config", "Ignoring unreadable config change", map[string]any{"error": err.Error()})
			return
		}
		if cfg.Backend.BaseURL != a.client.BaseURL() && flagUnset(cmd, "backend") {
			a.client.UpdateBaseURL(cfg.Backend.BaseURL)
			a.syslog.Info("config", "Backend URL changed", map[string]any{"backend": cfg.Backend.BaseURL})
		}
	})
	defer stopWatch()

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Bridge.Path, hub)
	if a.cfg.Bridge.MetricsPath != "" {
		mux.Handle(a.cfg.Bridge.MetricsPath, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	}

	srv := &http.Server{
		Addr:              a.cfg.Bridge.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("CortexAssist bridge"))
	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("ws://%s%s  ·  backend %s", a.cfg.Bridge.Listen, a.cfg.Bridge.Path, a.client.BaseURL())))
	a.syslog.Info("bridge", "Listening", map[string]any{"addr": a.cfg.Bridge.Listen, "path": a.cfg.Bridge.Path})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("bridge server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("bridge shutdown: %w", err)
	}
	fmt.Fprintln(out, successStyle.Render("✓ Bridge stopped"))
	return nil
}

// flagUnset reports whether the persistent flag name was left at its
// default, so file changes may override it.
func flagUnset(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f == nil || !f.Changed
}
