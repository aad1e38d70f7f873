package models

import "time"

// Vehicle is a fleet vehicle. The license plate is the document key; the
// maintenance catalog, active work session and history ledger hang off it.
type Vehicle struct {
	LicensePlate string    `bson:"_id" json:"license_plate"`
	Type         string    `bson:"type" json:"type"` // "truck", "trailer", "car", "forklift"
	Make         string    `bson:"make" json:"make"`
	Model        string    `bson:"model" json:"model"`
	Year         int       `bson:"year" json:"year"`
	CurrentKm    int       `bson:"current_km" json:"current_km"`
	Status       string    `bson:"status" json:"status"` // "active" or "inactive"
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}
