package models

import (
	"errors"
	"fmt"
	"time"
)

// IntervalKind selects how a service definition's due point is computed.
type IntervalKind string

const (
	KindDistance     IntervalKind = "km"       // due after a fixed number of kilometers
	KindElapsed      IntervalKind = "elapsed"  // due after a fixed calendar interval
	KindAbsoluteDate IntervalKind = "date"     // due at one specific date
)

// TimeUnit qualifies the interval value of an elapsed-kind definition.
type TimeUnit string

const (
	UnitDays   TimeUnit = "days"
	UnitMonths TimeUnit = "months"
	UnitYears  TimeUnit = "years"
)

// ErrInvalidDefinition marks a definition whose interval configuration is
// unusable. Surfaced to the user as "fix this service's settings".
var ErrInvalidDefinition = errors.New("invalid service definition")

// Baseline records when a service was last performed. Odometer is a pointer
// because older records carry only a date; a missing odometer resets the
// distance baseline to the vehicle's current reading.
type Baseline struct {
	Date     time.Time `bson:"date" json:"date"`
	Odometer *int      `bson:"odometer,omitempty" json:"odometer,omitempty"`
}

// ServiceDefinition is one maintenance rule attached to a vehicle.
// Name is the identity key within the vehicle's catalog; history items
// join back to definitions by exact name equality.
type ServiceDefinition struct {
	Name           string            `bson:"name" json:"name"`
	Kind           IntervalKind      `bson:"kind" json:"kind"`
	IntervalValue  int               `bson:"interval_value,omitempty" json:"interval_value,omitempty"` // km for Distance, count for Elapsed
	TimeUnit       TimeUnit          `bson:"time_unit,omitempty" json:"time_unit,omitempty"`
	SpecificDate   *time.Time        `bson:"specific_date,omitempty" json:"specific_date,omitempty"`
	ReminderMargin *int              `bson:"reminder_margin,omitempty" json:"reminder_margin,omitempty"` // km for Distance, days otherwise
	LastPerformed  *Baseline         `bson:"last_performed,omitempty" json:"last_performed,omitempty"`
	Notes          string            `bson:"notes,omitempty" json:"notes,omitempty"`
	SubTasks       map[string]string `bson:"sub_tasks,omitempty" json:"sub_tasks,omitempty"` // label -> default value, copied onto work items
}

// Validate enforces the per-kind invariants.
func (d *ServiceDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	switch d.Kind {
	case KindDistance:
		if d.IntervalValue <= 0 {
			return fmt.Errorf("%w: %q needs a positive km interval", ErrInvalidDefinition, d.Name)
		}
	case KindElapsed:
		if d.IntervalValue <= 0 {
			return fmt.Errorf("%w: %q needs a positive interval", ErrInvalidDefinition, d.Name)
		}
		switch d.TimeUnit {
		case UnitDays, UnitMonths, UnitYears:
		default:
			return fmt.Errorf("%w: %q has unknown time unit %q", ErrInvalidDefinition, d.Name, d.TimeUnit)
		}
	case KindAbsoluteDate:
		if d.SpecificDate == nil {
			return fmt.Errorf("%w: %q needs a specific date", ErrInvalidDefinition, d.Name)
		}
	default:
		return fmt.Errorf("%w: %q has unknown kind %q", ErrInvalidDefinition, d.Name, d.Kind)
	}
	return nil
}

// Clone returns a deep copy.
func (d ServiceDefinition) Clone() ServiceDefinition {
	out := d
	if d.SpecificDate != nil {
		t := *d.SpecificDate
		out.SpecificDate = &t
	}
	if d.ReminderMargin != nil {
		m := *d.ReminderMargin
		out.ReminderMargin = &m
	}
	if d.LastPerformed != nil {
		b := *d.LastPerformed
		if d.LastPerformed.Odometer != nil {
			km := *d.LastPerformed.Odometer
			b.Odometer = &km
		}
		out.LastPerformed = &b
	}
	if d.SubTasks != nil {
		out.SubTasks = make(map[string]string, len(d.SubTasks))
		for k, v := range d.SubTasks {
			out.SubTasks[k] = v
		}
	}
	return out
}

// CloneCatalog deep-copies a vehicle's service catalog.
func CloneCatalog(catalog []ServiceDefinition) []ServiceDefinition {
	if catalog == nil {
		return nil
	}
	out := make([]ServiceDefinition, len(catalog))
	for i, d := range catalog {
		out[i] = d.Clone()
	}
	return out
}
