package cli

import (
	"fmt"

	"github.com/felixgeelhaar/agenda/internal/booking/application/commands"
	booking "github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	cancelDate   string
	cancelReason string
	cancelDetail string
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <appointment-id>",
	Short: "Cancel an appointment",
	Long: `Cancel an appointment. The reason says who cancelled it.

Examples:
  agenda cancel 0b6f... --reason client
  agenda cancel 0b6f... --reason other --detail "studio closed" --date 2025-03-12`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.CancelAppointmentHandler == nil {
			return errNotInitialized
		}
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid appointment ID: %w", err)
		}
		reason, err := parseCancelReason(cancelReason)
		if err != nil {
			return err
		}
		day, err := app.parseDay(cancelDate)
		if err != nil {
			return err
		}

		if _, err := app.loadAround(ctx, day); err != nil {
			return fmt.Errorf("failed to load appointments: %w", err)
		}

		result, err := app.CancelAppointmentHandler.Handle(ctx, commands.CancelAppointmentCommand{
			AppointmentID: id,
			Reason:        reason,
			Detail:        cancelDetail,
		})
		if err != nil {
			return fmt.Errorf("failed to cancel appointment: %w", err)
		}

		printWriteResult(cmd.OutOrStdout(), result, "Appointment cancelled.")
		return nil
	},
}

func parseCancelReason(value string) (booking.CancelReason, error) {
	switch r := booking.CancelReason(value); r {
	case booking.CancelByClient, booking.CancelByTrainer, booking.CancelOther:
		return r, nil
	}
	return "", fmt.Errorf("invalid reason %q, use client, trainer or other", value)
}

func init() {
	cancelCmd.Flags().StringVarP(&cancelDate, "date", "d", "", "date of the appointment (YYYY-MM-DD, default: today)")
	cancelCmd.Flags().StringVar(&cancelReason, "reason", string(booking.CancelByClient), "who cancelled: client, trainer or other")
	cancelCmd.Flags().StringVar(&cancelDetail, "detail", "", "free text explaining the cancellation")

	rootCmd.AddCommand(cancelCmd)
}
