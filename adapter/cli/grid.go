package cli

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/agenda/internal/booking/application/queries"
	booking "github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/spf13/cobra"
)

var gridDate string

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Show a day as a grid of slots",
	Long: `Display every slot of the day with its availability and the
appointments booked on it.

Examples:
  agenda grid
  agenda grid --date 2025-03-10`,
	Aliases: []string{"day", "show"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.GetDayGridHandler == nil {
			return errNotInitialized
		}
		out := cmd.OutOrStdout()

		day, err := app.parseDay(gridDate)
		if err != nil {
			return err
		}

		grid, err := app.GetDayGridHandler.Handle(cmd.Context(), queries.GetDayGridQuery{
			Day:  day,
			Days: app.lookAhead(),
			Role: app.Role,
		})
		if err != nil {
			return fmt.Errorf("failed to load day: %w", err)
		}

		fmt.Fprintf(out, "Agenda for %s\n", grid.Day.Format("Monday, January 2, 2006"))
		if grid.Stale {
			if grid.FetchedAt.IsZero() {
				fmt.Fprintln(out, "Offline: nothing cached for this day yet.")
			} else {
				fmt.Fprintf(out, "Offline: showing data saved %s\n", grid.FetchedAt.In(app.location()).Format("Jan 2 15:04"))
			}
		}
		fmt.Fprintln(out, strings.Repeat("=", 60))

		for _, slot := range grid.Slots {
			fmt.Fprintf(out, "%s  %-13s", slot.Label, availabilityMark(slot.Availability))
			for i, a := range startingIn(grid.Appointments, slot) {
				if i > 0 {
					fmt.Fprint(out, "\n                     ")
				}
				fmt.Fprintf(out, "  %s-%s %s (%s, %s) %s",
					a.Start.In(app.location()).Format(clockLayout),
					a.End.In(app.location()).Format(clockLayout),
					a.ClientName, a.Type, a.Status, a.ID,
				)
				if a.Unsynced {
					fmt.Fprint(out, " *")
				}
				if verbose && a.Title != "" {
					fmt.Fprintf(out, " %q", a.Title)
				}
			}
			fmt.Fprintln(out)
		}

		fmt.Fprintln(out, strings.Repeat("-", 60))
		fmt.Fprintf(out, "%d appointments\n", len(grid.Appointments))
		if grid.Unsynced > 0 {
			fmt.Fprintf(out, "* %d changes waiting to sync\n", grid.Unsynced)
		}
		return nil
	},
}

// startingIn returns the appointments whose start falls inside slot.
func startingIn(appointments []queries.AppointmentDTO, slot queries.SlotDTO) []queries.AppointmentDTO {
	var found []queries.AppointmentDTO
	for _, a := range appointments {
		if !a.Start.Before(slot.Start) && a.Start.Before(slot.End) {
			found = append(found, a)
		}
	}
	return found
}

func availabilityMark(a booking.Availability) string {
	switch a {
	case booking.AvailabilityFree:
		return "free"
	case booking.AvailabilityBooked:
		return "booked"
	case booking.AvailabilityBlocked:
		return "blocked"
	default:
		return "closed"
	}
}

func init() {
	gridCmd.Flags().StringVarP(&gridDate, "date", "d", "", "date to show (YYYY-MM-DD, default: today)")
	rootCmd.AddCommand(gridCmd)
}
