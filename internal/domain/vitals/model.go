package vitals

import (
	"time"

	"github.com/telecare/telecare/internal/domain/measurement"
)

// Entry maps to the live_vitals table: the most recent reading for one
// (user, device type) pair. Overwritten in place on each relevant ingestion,
// never appended.
type Entry struct {
	UserID     string           `db:"user_id" json:"user_id"`
	DeviceType measurement.Type `db:"device_type" json:"device_type"`
	Systolic   *float64         `db:"systolic" json:"systolic,omitempty"`
	Diastolic  *float64         `db:"diastolic" json:"diastolic,omitempty"`
	Value      *float64         `db:"value" json:"value,omitempty"`
	MeasuredAt time.Time        `db:"measured_at" json:"measured_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}
