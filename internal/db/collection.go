package db

import (
	"context"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

// VehicleStore is the persistence contract the scheduling engine expects.
// Implementations load the maintenance state of one vehicle and accept
// partial, merge-style writes.
type VehicleStore interface {
	LoadVehicle(ctx context.Context, licensePlate string) (*models.Vehicle, error)
	LoadServiceCatalog(ctx context.Context, licensePlate string) ([]models.ServiceDefinition, error)
	LoadWorkSession(ctx context.Context, licensePlate string) (*models.WorkSession, error)
	LoadHistory(ctx context.Context, licensePlate string) ([]models.HistoryEntry, error)
	Persist(ctx context.Context, licensePlate string, update VehicleUpdate) error
}

// VehicleUpdate is a partial upsert: only fields whose Set flag is true are
// written. WorkSession may be set to nil, which clears the stored session.
type VehicleUpdate struct {
	Services    []models.ServiceDefinition
	WorkSession *models.WorkSession
	History     []models.HistoryEntry
	CurrentKm   int

	SetServices    bool
	SetWorkSession bool
	SetHistory     bool
	SetCurrentKm   bool
}

// Merge folds a later update into this one, field by field. The later
// value wins for every field it sets.
func (u *VehicleUpdate) Merge(next VehicleUpdate) {
	if next.SetServices {
		u.Services = next.Services
		u.SetServices = true
	}
	if next.SetWorkSession {
		u.WorkSession = next.WorkSession
		u.SetWorkSession = true
	}
	if next.SetHistory {
		u.History = next.History
		u.SetHistory = true
	}
	if next.SetCurrentKm {
		u.CurrentKm = next.CurrentKm
		u.SetCurrentKm = true
	}
}

// Empty reports whether the update writes nothing.
func (u *VehicleUpdate) Empty() bool {
	return !u.SetServices && !u.SetWorkSession && !u.SetHistory && !u.SetCurrentKm
}
