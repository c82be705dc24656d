package measurement

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/platform/devicevendor"
)

// Type classifies a reading by the kind of device that produced it.
type Type string

const (
	TypeBloodPressure Type = "blood_pressure"
	TypeHeartRate     Type = "heart_rate"
	TypeTemperature   Type = "temperature"
	TypeSpO2          Type = "spo2"
	TypeWeight        Type = "weight"
)

// Vendor measure type codes. The table is fixed; codes outside it are
// dropped during normalization.
const (
	codeWeight      = 1
	codeDiastolic   = 9
	codeSystolic    = 10
	codeHeartRate   = 11
	codeSpO2        = 54
	codeTemperature = 71
)

// scalarTypes maps single-scalar vendor codes to platform types. Systolic and
// diastolic are handled separately because they fold into one blood pressure
// reading.
var scalarTypes = map[int]Type{
	codeWeight:      TypeWeight,
	codeHeartRate:   TypeHeartRate,
	codeSpO2:        TypeSpO2,
	codeTemperature: TypeTemperature,
}

// Measurement maps to the measurement table: one typed reading normalized
// from a vendor measurement group. Immutable once created; never deleted by
// this subsystem.
type Measurement struct {
	ID            uuid.UUID `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	MeasuredAt    time.Time `db:"measured_at" json:"measured_at"`
	DeviceModel   string    `db:"device_model" json:"device_model,omitempty"`
	Type          Type      `db:"measurement_type" json:"measurement_type"`
	Systolic      *float64  `db:"systolic" json:"systolic,omitempty"`
	Diastolic     *float64  `db:"diastolic" json:"diastolic,omitempty"`
	Value         *float64  `db:"value" json:"value,omitempty"`
	NaturalKey    string    `db:"natural_key" json:"natural_key"`
	VendorGroupID int64     `db:"vendor_group_id" json:"vendor_group_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// naturalKey derives the deduplication key for one (group, type) pair. A
// single vendor group can yield several typed rows (a cuff reports blood
// pressure and pulse together), so the type is part of the key; the group id
// alone dedupes re-deliveries of the same group.
func naturalKey(groupID int64, t Type) string {
	return fmt.Sprintf("grp-%d-%s", groupID, t)
}

// NormalizeGroup maps one vendor measurement group to typed measurements
// using the fixed type-code table. Groups containing no recognized code
// produce nothing and are silently dropped by the caller.
func NormalizeGroup(userID string, g devicevendor.MeasureGroup) []Measurement {
	var (
		out       []Measurement
		systolic  *float64
		diastolic *float64
	)

	base := Measurement{
		UserID:        userID,
		MeasuredAt:    g.MeasuredAt(),
		DeviceModel:   g.Model,
		VendorGroupID: g.GroupID,
	}

	for _, v := range g.Measures {
		val := v.Float()
		switch v.Type {
		case codeSystolic:
			systolic = &val
		case codeDiastolic:
			diastolic = &val
		default:
			t, ok := scalarTypes[v.Type]
			if !ok {
				continue
			}
			m := base
			m.Type = t
			m.Value = &val
			m.NaturalKey = naturalKey(g.GroupID, t)
			out = append(out, m)
		}
	}

	if systolic != nil || diastolic != nil {
		m := base
		m.Type = TypeBloodPressure
		m.Systolic = systolic
		m.Diastolic = diastolic
		m.NaturalKey = naturalKey(g.GroupID, TypeBloodPressure)
		out = append(out, m)
	}
	return out
}
