package cli

import (
	"bufio"
	"errors"
	"fmt"

	bookingApp "github.com/felixgeelhaar/agenda/internal/booking/application"
	booking "github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	rescheduleDate     string
	rescheduleStart    string
	rescheduleOverride bool
	rescheduleYes      bool
)

var rescheduleCmd = &cobra.Command{
	Use:   "reschedule <appointment-id>",
	Short: "Move an appointment to another slot",
	Long: `Move an appointment to a new start time. It keeps its duration.

The move is checked against the other appointments, blocked time,
working hours and the rest rule. Placing a session directly after
another one only needs an override; any other conflict rejects the move.

You can find appointment IDs using 'agenda grid'.

Examples:
  agenda reschedule 0b6f... --start 14:00
  agenda reschedule 0b6f... --start 09:30 --date 2025-03-11 --yes
  agenda reschedule 0b6f... --start 11:00 --override --yes`,
	Aliases: []string{"move", "mv"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Rescheduler == nil {
			return errNotInitialized
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid appointment ID: %w", err)
		}
		day, err := app.parseDay(rescheduleDate)
		if err != nil {
			return err
		}
		newStart, err := parseClock(day, rescheduleStart)
		if err != nil {
			return err
		}

		if _, err := app.loadAround(ctx, day); err != nil {
			return fmt.Errorf("failed to load appointments: %w", err)
		}

		tx, err := app.Rescheduler.Begin(ctx, id, newStart)
		if err != nil {
			if errors.Is(err, booking.ErrAppointmentNotFound) {
				return fmt.Errorf("appointment %s not found within %d days of %s", id, app.lookAhead(), day.Format(dateLayout))
			}
			return err
		}

		res, err := tx.Validate()
		if err != nil {
			return err
		}
		if tx.State() == bookingApp.StateRejected {
			return fmt.Errorf("cannot move appointment: %w", res.Err)
		}

		appt := tx.Appointment()
		summary := fmt.Sprintf("Move %s from %s to %s-%s?",
			appt.Client().Name,
			appt.Start().In(app.location()).Format("Mon Jan 2 15:04"),
			tx.NewStart().In(app.location()).Format("Mon Jan 2 15:04"),
			tx.NewEnd().In(app.location()).Format(clockLayout),
		)

		in := bufio.NewReader(cmd.InOrStdin())
		if res.RequiresOverride {
			fmt.Fprintf(out, "Warning: %s\n", res.Err)
			if !rescheduleOverride && (rescheduleYes || !confirm(in, out, "Place it anyway?")) {
				_ = tx.Cancel()
				return fmt.Errorf("%w: %w", bookingApp.ErrOverrideRequired, res.Err)
			}
		}
		if !rescheduleYes && !confirm(in, out, summary) {
			_ = tx.Cancel()
			fmt.Fprintln(out, "Nothing changed.")
			return nil
		}

		result, err := tx.Confirm(ctx)
		if err != nil {
			if notice := tx.Notice(); notice != nil && notice.Retryable {
				return fmt.Errorf("%s: %w", notice.Message, err)
			}
			return err
		}

		if notice := tx.Notice(); notice != nil {
			fmt.Fprintln(out, notice.Message)
		}
		if result.OverrideApplied {
			fmt.Fprintln(out, "Rest rule waived for this appointment.")
		}
		return nil
	},
}

func init() {
	rescheduleCmd.Flags().StringVarP(&rescheduleDate, "date", "d", "", "target date (YYYY-MM-DD, default: today)")
	rescheduleCmd.Flags().StringVar(&rescheduleStart, "start", "", "new start time (HH:MM, required)")
	rescheduleCmd.Flags().BoolVar(&rescheduleOverride, "override", false, "accept a placement that breaks the rest rule")
	rescheduleCmd.Flags().BoolVarP(&rescheduleYes, "yes", "y", false, "do not ask for confirmation")

	_ = rescheduleCmd.MarkFlagRequired("start")
	rootCmd.AddCommand(rescheduleCmd)
}
