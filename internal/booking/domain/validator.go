package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrOverlap             = errors.New("overlaps another appointment")
	ErrOutsideGrid         = errors.New("outside the calendar grid")
	ErrOutsideWorkingHours = errors.New("outside working hours")
	ErrRestGap             = errors.New("insufficient rest between sessions")
)

// ConflictKind identifies which rule a placement broke.
type ConflictKind string

const (
	ConflictOverlap             ConflictKind = "overlap"
	ConflictOutsideGrid         ConflictKind = "outside-grid"
	ConflictOutsideWorkingHours ConflictKind = "outside-working-hours"
	ConflictRestGap             ConflictKind = "rest-gap"
)

// ConflictError describes a rejected placement. Only rest-gap violations
// under an overridable rest config are soft.
type ConflictError struct {
	Kind    ConflictKind
	Message string
	soft    bool
}

func (e *ConflictError) Error() string { return e.Message }

// Soft reports whether an explicit override may bypass the conflict.
func (e *ConflictError) Soft() bool { return e.soft }

func (e *ConflictError) Unwrap() error {
	switch e.Kind {
	case ConflictOverlap:
		return ErrOverlap
	case ConflictOutsideGrid:
		return ErrOutsideGrid
	case ConflictOutsideWorkingHours:
		return ErrOutsideWorkingHours
	case ConflictRestGap:
		return ErrRestGap
	}
	return nil
}

// ValidationRequest is one candidate placement with the context it is
// checked against. Hours and Rest are optional.
type ValidationRequest struct {
	Candidate    *Appointment
	NewStart     time.Time
	Appointments []*Appointment
	Hours        *WorkingHours
	Rest         *RestConfig
	OverrideRest bool
}

// ValidationResult is the outcome of a validation. Err is nil when the
// placement is acceptable.
type ValidationResult struct {
	Err              error
	RequiresOverride bool
}

// OK reports whether the placement passed.
func (r ValidationResult) OK() bool { return r.Err == nil }

// Hard reports whether the placement failed and cannot be overridden.
func (r ValidationResult) Hard() bool { return r.Err != nil && !r.RequiresOverride }

// Validator checks candidate placements against the scheduling rules.
type Validator struct {
	grid GridConfig
}

// NewValidator creates a validator bound to the global grid bounds.
func NewValidator(grid GridConfig) *Validator {
	return &Validator{grid: grid}
}

// Validate runs overlap, grid bounds, working hours and rest gap checks in
// that order and stops at the first failure.
func (v *Validator) Validate(req ValidationRequest) ValidationResult {
	candidate := TimeRange{Start: req.NewStart, End: req.NewStart.Add(req.Candidate.Duration())}

	for _, other := range req.Appointments {
		if !v.isOther(req.Candidate, other) {
			continue
		}
		if other.Range().Overlaps(candidate) {
			return hard(ConflictOverlap, fmt.Sprintf("overlaps %s (%s)", describe(other), formatRange(other.Range())))
		}
	}

	if !v.grid.InBounds(req.NewStart) {
		return hard(ConflictOutsideGrid, fmt.Sprintf("%s is outside the calendar hours %02d:00-%02d:00",
			req.NewStart.Format("15:04"), v.grid.OpenHour, v.grid.CloseHour))
	}

	if req.Hours != nil && !req.Hours.Contains(candidate) {
		return hard(ConflictOutsideWorkingHours, fmt.Sprintf("%s is outside working hours", formatRange(candidate)))
	}

	if req.Rest != nil && req.Rest.Enabled && !(req.OverrideRest && req.Rest.AllowOverride) {
		if msg, ok := v.restViolation(req, candidate); ok {
			if req.Rest.AllowOverride {
				return ValidationResult{
					Err:              &ConflictError{Kind: ConflictRestGap, Message: msg, soft: true},
					RequiresOverride: true,
				}
			}
			return hard(ConflictRestGap, msg)
		}
	}

	return ValidationResult{}
}

// restViolation inspects only the nearest neighbour on each side.
func (v *Validator) restViolation(req ValidationRequest, candidate TimeRange) (string, bool) {
	var prev, next *Appointment
	for _, other := range req.Appointments {
		if !v.isOther(req.Candidate, other) || !SameDay(candidate.Start, other.Start()) {
			continue
		}
		if !other.End().After(candidate.Start) {
			if prev == nil || other.End().After(prev.End()) {
				prev = other
			}
		}
		if !other.Start().Before(candidate.End) {
			if next == nil || other.Start().Before(next.Start()) {
				next = other
			}
		}
	}

	minimum := req.Rest.MinimumGap()
	if prev != nil {
		if gap := candidate.Start.Sub(prev.End()); gap < minimum {
			return fmt.Sprintf("only %d min rest after %s (minimum %d min)",
				int(gap.Minutes()), describe(prev), req.Rest.MinimumMinutes), true
		}
	}
	if next != nil {
		if gap := next.Start().Sub(candidate.End); gap < minimum {
			return fmt.Sprintf("only %d min rest before %s (minimum %d min)",
				int(gap.Minutes()), describe(next), req.Rest.MinimumMinutes), true
		}
	}
	return "", false
}

func (v *Validator) isOther(candidate, other *Appointment) bool {
	return other.ID() != candidate.ID() && other.Occupies()
}

func hard(kind ConflictKind, msg string) ValidationResult {
	return ValidationResult{Err: &ConflictError{Kind: kind, Message: msg}}
}

func describe(a *Appointment) string {
	if name := a.Client().Name; name != "" {
		return "session with " + name
	}
	if a.Title() != "" {
		return a.Title()
	}
	return "another session"
}

func formatRange(r TimeRange) string {
	return r.Start.Format("15:04") + "-" + r.End.Format("15:04")
}
