package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	offline "github.com/felixgeelhaar/agenda/internal/offline/domain"
	"github.com/spf13/cobra"
)

var pendingLimit int

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Send offline changes and refresh the local cache",
	Long: `Replay the changes queued on this device in the order they were
made, then refresh the cached appointments around today.

Examples:
  agenda sync
  agenda sync pending`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Reconciler == nil {
			return errNotInitialized
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if !app.Connectivity.Check(ctx) {
			n, err := app.Sync.PendingCount(ctx)
			if err != nil {
				return fmt.Errorf("failed to count pending changes: %w", err)
			}
			fmt.Fprintf(out, "Offline: %d changes waiting to sync.\n", n)
			return nil
		}

		result, err := app.Reconciler.RunOnce(ctx)
		fmt.Fprintf(out, "Replayed %d changes, %d still pending.\n", result.Replayed, result.Remaining)
		if result.Parked > 0 {
			fmt.Fprintf(out, "%d changes were refused and set aside, see 'agenda sync pending'.\n", result.Parked)
		}
		if err != nil {
			return fmt.Errorf("sync incomplete: %w", err)
		}

		today, _ := app.parseDay("")
		if _, err := app.loadAround(ctx, today); err != nil {
			return fmt.Errorf("failed to refresh cache: %w", err)
		}

		if app.OutboxProcessor != nil {
			delivery, err := app.OutboxProcessor.ProcessOnce(ctx)
			if err != nil {
				logger.Warn("failed to deliver client notifications", "error", err)
			} else if delivery.Sent > 0 {
				fmt.Fprintf(out, "Sent %d client notifications.\n", delivery.Sent)
			}
		}
		fmt.Fprintln(out, "Local cache is up to date.")
		return nil
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List changes waiting to sync",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Sync == nil {
			return errNotInitialized
		}
		out := cmd.OutOrStdout()

		changes, err := app.Sync.Pending(cmd.Context(), pendingLimit)
		if err != nil {
			return fmt.Errorf("failed to list pending changes: %w", err)
		}
		parked, err := app.Sync.Parked(cmd.Context(), pendingLimit)
		if err != nil {
			return fmt.Errorf("failed to list parked changes: %w", err)
		}
		if len(changes) == 0 && len(parked) == 0 {
			fmt.Fprintln(out, "No pending changes.")
			return nil
		}

		if len(changes) > 0 {
			app.printChanges(out, changes)
		}
		if len(parked) > 0 {
			if len(changes) > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, "Set aside after failing to sync:")
			app.printChanges(out, parked)
		}
		return nil
	},
}

func (a *App) printChanges(out io.Writer, changes []offline.PendingChange) {
	fmt.Fprintf(out, "%-19s  %-10s  %-36s  %s\n", "QUEUED", "INTENT", "APPOINTMENT", "ATTEMPTS")
	fmt.Fprintln(out, strings.Repeat("-", 80))
	for _, c := range changes {
		fmt.Fprintf(out, "%-19s  %-10s  %-36s  %d",
			c.EnqueuedAt.In(a.location()).Format(time.DateTime),
			c.Intent,
			c.AppointmentID,
			c.Attempts,
		)
		if c.LastError != "" {
			fmt.Fprintf(out, "  (%s)", c.LastError)
		}
		fmt.Fprintln(out)
	}
}

func init() {
	pendingCmd.Flags().IntVarP(&pendingLimit, "limit", "n", 0, "show at most n changes (default: all)")

	syncCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(syncCmd)
}
