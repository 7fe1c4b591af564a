// CortexAssist - voice and text front end for the assistant backend
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	version = "dev"

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	backendURL string
	logLevel   string
	verbose    bool
	noSpeech   bool
}

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "cortexassist",
		Short: "CortexAssist - talk to your assistant by voice or text",
		Long: titleStyle.Render("CortexAssist") + `

A conversational front end for the assistant backend:
• Chat by typing or speaking, with spoken replies
• Quick actions for time, weather, and news
• Manage reminders stored on the backend
• Serve a WebSocket bridge for graphical clients

` + dimStyle.Render("Use 'cortexassist [command] --help' for more information."),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default ~/.cortexassist/config.yaml)")
	pf.StringVar(&flags.backendURL, "backend", "", "backend base URL, overrides the config file")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log to the console")
	pf.BoolVar(&flags.noSpeech, "no-speech", false, "disable speech input and output")

	rootCmd.AddCommand(
		newChatCmd(&flags),
		newAskCmd(&flags),
		newQuickCmd(&flags),
		newRemindersCmd(&flags),
		newServeCmd(&flags),
		newConfigCmd(&flags),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
