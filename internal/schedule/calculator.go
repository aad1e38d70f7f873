// Package schedule computes when a vehicle service becomes due. It is pure:
// every function is deterministic given the definition, the vehicle state
// and the reference day, and nothing here touches storage.
package schedule

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

// Tier is the coarse status shown to the user.
type Tier string

const (
	TierNormal   Tier = "normal"
	TierReminder Tier = "reminder"
	TierOverdue  Tier = "overdue"
)

// Reminder-margin defaults applied when a definition carries none.
const (
	DefaultDistanceReminderKm  = 15000
	DefaultYearlyReminderDays  = 90
	DefaultMonthlyReminderDays = 14
	DefaultReminderDays        = 30
)

// kmPerDay converts day remainders into a distance equivalent so mixed
// distance- and time-based services merge into one priority ordering.
const kmPerDay = 2500.0 / 7.0

// VehicleState is the snapshot the calculator reads.
type VehicleState struct {
	Odometer int
}

// Status is the computed due state for one service definition. Remaining is
// kilometers for the distance kind and days otherwise, signed: negative
// means overdue. Unset marks a definition with no baseline to compute from;
// the caller should prompt for one instead of showing a tier.
type Status struct {
	DueKm     *int       `json:"due_km,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	Remaining int        `json:"remaining"`
	Tier      Tier       `json:"tier,omitempty"`
	Unset     bool       `json:"unset,omitempty"`
}

// ComputeStatus converts a service definition plus the current vehicle state
// into a due point, remaining margin and status tier.
func ComputeStatus(def models.ServiceDefinition, state VehicleState, today time.Time) (Status, error) {
	if err := def.Validate(); err != nil {
		return Status{}, err
	}

	switch def.Kind {
	case models.KindDistance:
		return distanceStatus(def, state), nil
	case models.KindElapsed:
		return elapsedStatus(def, today), nil
	case models.KindAbsoluteDate:
		return dateStatus(*def.SpecificDate, reminderDays(def), today), nil
	default:
		return Status{}, fmt.Errorf("%w: unknown kind %q", models.ErrInvalidDefinition, def.Kind)
	}
}

func distanceStatus(def models.ServiceDefinition, state VehicleState) Status {
	if def.LastPerformed == nil {
		return Status{Unset: true}
	}

	// A baseline without an odometer reading resets to the current one.
	baseKm := state.Odometer
	if def.LastPerformed.Odometer != nil {
		baseKm = *def.LastPerformed.Odometer
	}

	dueKm := baseKm + def.IntervalValue
	remaining := dueKm - state.Odometer

	margin := DefaultDistanceReminderKm
	if def.ReminderMargin != nil {
		margin = *def.ReminderMargin
	}

	return Status{DueKm: &dueKm, Remaining: remaining, Tier: tierFor(remaining, margin)}
}

func elapsedStatus(def models.ServiceDefinition, today time.Time) Status {
	if def.LastPerformed == nil || def.LastPerformed.Date.IsZero() {
		return Status{Unset: true}
	}
	due := addInterval(def.LastPerformed.Date, def.IntervalValue, def.TimeUnit)
	return dateStatus(due, reminderDays(def), today)
}

func dateStatus(due time.Time, margin int, today time.Time) Status {
	remaining := daysUntil(today, due)
	return Status{DueDate: &due, Remaining: remaining, Tier: tierFor(remaining, margin)}
}

func tierFor(remaining, margin int) Tier {
	switch {
	case remaining <= 0:
		return TierOverdue
	case remaining <= margin:
		return TierReminder
	default:
		return TierNormal
	}
}

func reminderDays(def models.ServiceDefinition) int {
	if def.ReminderMargin != nil {
		return *def.ReminderMargin
	}
	switch def.TimeUnit {
	case models.UnitYears:
		return DefaultYearlyReminderDays
	case models.UnitMonths:
		return DefaultMonthlyReminderDays
	default:
		return DefaultReminderDays
	}
}

// addInterval adds a calendar interval to a date. Month and year arithmetic
// follows time.AddDate's rollover rules.
func addInterval(from time.Time, value int, unit models.TimeUnit) time.Time {
	switch unit {
	case models.UnitYears:
		return from.AddDate(value, 0, 0)
	case models.UnitMonths:
		return from.AddDate(0, value, 0)
	default:
		return from.AddDate(0, 0, value)
	}
}

// daysUntil counts whole days from today to due, comparing civil dates so
// the time-of-day of either side never shifts the result.
func daysUntil(today, due time.Time) int {
	t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	d := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	return int(math.Ceil(d.Sub(t).Hours() / 24))
}

// EquivalentKmUntilDue ranks a definition by distance-until-due, converting
// day remainders at 2500 km per 7 days. Definitions without a computable
// due point return +Inf so they sort last.
func EquivalentKmUntilDue(def models.ServiceDefinition, state VehicleState, today time.Time) float64 {
	status, err := ComputeStatus(def, state, today)
	if err != nil || status.Unset {
		return math.Inf(1)
	}
	if def.Kind == models.KindDistance {
		return float64(status.Remaining)
	}
	return float64(status.Remaining) * kmPerDay
}

// SortByUrgency orders a catalog copy by equivalent distance until due,
// most urgent first. The input slice is not modified.
func SortByUrgency(catalog []models.ServiceDefinition, state VehicleState, today time.Time) []models.ServiceDefinition {
	out := models.CloneCatalog(catalog)
	sort.SliceStable(out, func(i, j int) bool {
		return EquivalentKmUntilDue(out[i], state, today) < EquivalentKmUntilDue(out[j], state, today)
	})
	return out
}
