package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	bookingApp "github.com/felixgeelhaar/agenda/internal/booking/application"
	"github.com/felixgeelhaar/agenda/internal/booking/application/commands"
	"github.com/felixgeelhaar/agenda/internal/booking/application/queries"
	booking "github.com/felixgeelhaar/agenda/internal/booking/domain"
	offlineApp "github.com/felixgeelhaar/agenda/internal/offline/application"
	offline "github.com/felixgeelhaar/agenda/internal/offline/domain"
	"github.com/felixgeelhaar/agenda/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/agenda/pkg/observability"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

var errNotInitialized = errors.New("agenda is not initialized, check the configuration")

// App holds the CLI application dependencies.
type App struct {
	// Reschedule flow
	Rescheduler *bookingApp.Rescheduler

	// Command Handlers
	CancelAppointmentHandler *commands.CancelAppointmentHandler
	ChangeStatusHandler      *commands.ChangeStatusHandler

	// Query Handlers
	GetDayGridHandler *queries.GetDayGridHandler

	// Sync
	Sync            *offlineApp.SyncService
	Reconciler      *offlineApp.Reconciler
	Connectivity    *offlineApp.ConnectivityMonitor
	OutboxProcessor *outbox.Processor
	Health          *observability.HealthRegistry

	Role offline.Role
	// LookAheadDays is how far around the target day appointments are
	// loaded before a change is validated.
	LookAheadDays int
	Location      *time.Location
}

// app is the global CLI application instance
var app *App

// SetApp sets the global CLI application instance.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return app
}

func (a *App) location() *time.Location {
	if a.Location == nil {
		return time.Local
	}
	return a.Location
}

func (a *App) lookAhead() int {
	if a.LookAheadDays <= 0 {
		return 7
	}
	return a.LookAheadDays
}

// parseDay reads YYYY-MM-DD in the app's location; empty means today.
func (a *App) parseDay(value string) (time.Time, error) {
	loc := a.location()
	if value == "" {
		return booking.StartOfDay(time.Now().In(loc)), nil
	}
	day, err := time.ParseInLocation(dateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format, use YYYY-MM-DD: %w", err)
	}
	return day, nil
}

// parseClock places HH:MM on day.
func parseClock(day time.Time, value string) (time.Time, error) {
	clock, err := time.Parse(clockLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time format, use HH:MM: %w", err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, day.Location()), nil
}

// loadAround fills the agenda with LookAheadDays on either side of day, so
// the appointment being changed and its neighbours are known.
func (a *App) loadAround(ctx context.Context, day time.Time) (*queries.DayGridDTO, error) {
	n := a.lookAhead()
	return a.GetDayGridHandler.Handle(ctx, queries.GetDayGridQuery{
		Day:  day.AddDate(0, 0, -n),
		Days: 2*n + 1,
		Role: a.Role,
	})
}

// confirm asks a yes/no question; anything but y or yes is a no.
func confirm(in *bufio.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(out)
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func printWriteResult(out io.Writer, result offline.WriteResult, done string) {
	if result.Queued {
		fmt.Fprintln(out, "Saved offline, will sync when the connection returns.")
		return
	}
	fmt.Fprintln(out, done)
}
