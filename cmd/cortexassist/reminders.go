package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newRemindersCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reminders",
		Aliases: []string{"rem"},
		Short:   "Manage reminders stored on the backend",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List upcoming reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, false)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.reminders.Refresh(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderReminders(a.reminders.Reminders()))
			return nil
		},
	}

	var at, on string
	addCmd := &cobra.Command{
		Use:   "add [description...]",
		Short: "Create a reminder",
		Example: `  cortexassist reminders add call mom --at 17:00 --on 2024-01-01
  cortexassist reminders add water the plants --at "9 AM"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, false)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.reminders.Create(cmd.Context(), strings.Join(args, " "), at, on)
			out := cmd.OutOrStdout()
			if res != nil && res.Response != "" {
				fmt.Fprintln(out, res.Response)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, successStyle.Render("✓ Reminder created"))
			fmt.Fprintln(out, renderReminders(a.reminders.Reminders()))
			return nil
		},
	}
	addCmd.Flags().StringVar(&at, "at", "", "time, e.g. 17:00")
	addCmd.Flags().StringVar(&on, "on", "", "date, e.g. 2024-01-01")

	var upAt, upOn string
	updateCmd := &cobra.Command{
		Use:   "update [id] [description...]",
		Short: "Change a reminder's text and time",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(flags, false)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.reminders.Update(cmd.Context(), id, strings.Join(args[1:], " "), upAt, upOn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("✓ Reminder updated"))
			fmt.Fprintln(cmd.OutOrStdout(), renderReminders(a.reminders.Reminders()))
			return nil
		},
	}
	updateCmd.Flags().StringVar(&upAt, "at", "", "new time, e.g. 18:30 (default: now)")
	updateCmd.Flags().StringVar(&upOn, "on", "", "new date, e.g. 2024-01-02 (default: today)")

	deleteCmd := &cobra.Command{
		Use:     "delete [id]",
		Aliases: []string{"rm"},
		Short:   "Delete a reminder",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(flags, false)
			if err != nil {
				return err
			}
			defer a.close()

			err = a.reminders.Delete(cmd.Context(), id)
			if last, ok := a.log.Last(); ok {
				fmt.Fprintln(cmd.OutOrStdout(), last.Content)
			}
			return err
		},
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every reminder",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear all reminders without --yes")
			}
			a, err := newApp(flags, false)
			if err != nil {
				return err
			}
			defer a.close()

			err = a.reminders.ClearAll(cmd.Context())
			if last, ok := a.log.Last(); ok {
				fmt.Fprintln(cmd.OutOrStdout(), last.Content)
			}
			return err
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm")

	cmd.AddCommand(listCmd, addCmd, updateCmd, deleteCmd, clearCmd)
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid reminder id %q", s)
	}
	return id, nil
}
