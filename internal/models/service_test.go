package models

import (
	"errors"
	"testing"
	"time"
)

func TestServiceDefinition_Validate(t *testing.T) {
	date := time.Date(2025, 10, 12, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		def     ServiceDefinition
		wantErr bool
	}{
		{"valid distance", ServiceDefinition{Name: "Oil change", Kind: KindDistance, IntervalValue: 15000}, false},
		{"distance zero interval", ServiceDefinition{Name: "Oil change", Kind: KindDistance}, true},
		{"distance negative interval", ServiceDefinition{Name: "Oil change", Kind: KindDistance, IntervalValue: -1}, true},
		{"valid elapsed years", ServiceDefinition{Name: "Annual check", Kind: KindElapsed, IntervalValue: 1, TimeUnit: UnitYears}, false},
		{"elapsed missing unit", ServiceDefinition{Name: "Annual check", Kind: KindElapsed, IntervalValue: 1}, true},
		{"elapsed zero interval", ServiceDefinition{Name: "Annual check", Kind: KindElapsed, TimeUnit: UnitYears}, true},
		{"valid absolute date", ServiceDefinition{Name: "Inspection", Kind: KindAbsoluteDate, SpecificDate: &date}, false},
		{"absolute date without date", ServiceDefinition{Name: "Inspection", Kind: KindAbsoluteDate}, true},
		{"unknown kind", ServiceDefinition{Name: "Mystery", Kind: "weekly"}, true},
		{"missing name", ServiceDefinition{Kind: KindDistance, IntervalValue: 15000}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.wantErr && err == nil {
				t.Errorf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr && err != nil && !errors.Is(err, ErrInvalidDefinition) {
				t.Errorf("error %v is not ErrInvalidDefinition", err)
			}
		})
	}
}

func TestServiceDefinition_Clone(t *testing.T) {
	km := 100000
	margin := 3000
	def := ServiceDefinition{
		Name:           "Oil change",
		Kind:           KindDistance,
		IntervalValue:  15000,
		ReminderMargin: &margin,
		LastPerformed:  &Baseline{Date: time.Now(), Odometer: &km},
		SubTasks:       map[string]string{"Filter": "Mann W950"},
	}

	clone := def.Clone()
	*clone.ReminderMargin = 5000
	*clone.LastPerformed.Odometer = 0
	clone.SubTasks["Filter"] = "changed"

	if *def.ReminderMargin != 3000 {
		t.Errorf("clone shares reminder margin")
	}
	if *def.LastPerformed.Odometer != 100000 {
		t.Errorf("clone shares baseline odometer")
	}
	if def.SubTasks["Filter"] != "Mann W950" {
		t.Errorf("clone shares sub task map")
	}
}

func TestWorkSession_Helpers(t *testing.T) {
	var nilSession *WorkSession
	if nilSession.Item("x") != nil || nilSession.HasItemNamed("x") || nilSession.CompletedCount() != 0 || nilSession.Clone() != nil {
		t.Errorf("nil session helpers should be no-ops")
	}

	s := &WorkSession{
		ID: "s1",
		Items: []WorkItem{
			{ID: "a", Name: "Oil change", Status: StatusPending},
			{ID: "b", Name: "Brake check", Status: StatusCompleted},
		},
	}
	if s.Item("b") == nil || s.Item("missing") != nil {
		t.Errorf("Item lookup failed")
	}
	if !s.HasItemNamed("Oil change") || s.HasItemNamed("Coolant") {
		t.Errorf("HasItemNamed failed")
	}
	if s.CompletedCount() != 1 {
		t.Errorf("CompletedCount = %d, want 1", s.CompletedCount())
	}

	clone := s.Clone()
	clone.Items[0].Status = StatusCompleted
	if s.Items[0].Status != StatusPending {
		t.Errorf("clone shares item slice")
	}
}
