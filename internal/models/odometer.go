package models

import "time"

// OdometerReading is one kilometer update for a vehicle, as published on
// the fleet/odometer/<plate> topic.
type OdometerReading struct {
	VehicleID  string    `bson:"vehicle_id" json:"vehicle_id"`
	Kilometers int       `bson:"kilometers" json:"kilometers"`
	RecordedAt time.Time `bson:"recorded_at" json:"recorded_at"`
}
