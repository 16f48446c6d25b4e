package cli

import (
	"fmt"

	"github.com/felixgeelhaar/agenda/internal/booking/application/commands"
	booking "github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var statusDate string

var statusCmd = &cobra.Command{
	Use:   "status <appointment-id> <status>",
	Short: "Change an appointment's status",
	Long: `Move an appointment to another status: pending, confirmed,
in-progress, completed or no-show. Use 'agenda cancel' to cancel.

Examples:
  agenda status 0b6f... confirmed
  agenda status 0b6f... no-show --date 2025-03-10`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.ChangeStatusHandler == nil {
			return errNotInitialized
		}
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid appointment ID: %w", err)
		}
		status, err := booking.ParseStatus(args[1])
		if err != nil {
			return err
		}
		day, err := app.parseDay(statusDate)
		if err != nil {
			return err
		}

		if _, err := app.loadAround(ctx, day); err != nil {
			return fmt.Errorf("failed to load appointments: %w", err)
		}

		result, err := app.ChangeStatusHandler.Handle(ctx, commands.ChangeStatusCommand{
			AppointmentID: id,
			Status:        status,
		})
		if err != nil {
			return fmt.Errorf("failed to change status: %w", err)
		}

		printWriteResult(cmd.OutOrStdout(), result, fmt.Sprintf("Appointment is now %s.", status))
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusDate, "date", "d", "", "date of the appointment (YYYY-MM-DD, default: today)")
	rootCmd.AddCommand(statusCmd)
}
