package measurement

import (
	"testing"
	"time"

	"github.com/telecare/telecare/internal/platform/devicevendor"
)

func TestNormalizeGroup_ScalarTypes(t *testing.T) {
	cases := []struct {
		name     string
		code     int
		value    int64
		unit     int
		wantType Type
		want     float64
	}{
		{"weight", 1, 72500, -3, TypeWeight, 72.5},
		{"heart rate", 11, 64, 0, TypeHeartRate, 64},
		{"spo2", 54, 98, 0, TypeSpO2, 98},
		{"temperature", 71, 368, -1, TypeTemperature, 36.8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := devicevendor.MeasureGroup{
				GroupID: 9001,
				Date:    1760000000,
				Model:   "Scale v2",
				Measures: []devicevendor.MeasureValue{
					{Value: tc.value, Type: tc.code, Unit: tc.unit},
				},
			}
			out := NormalizeGroup("user-1", g)
			if len(out) != 1 {
				t.Fatalf("expected 1 measurement, got %d", len(out))
			}
			m := out[0]
			if m.Type != tc.wantType {
				t.Errorf("expected type %s, got %s", tc.wantType, m.Type)
			}
			if m.Value == nil || *m.Value != tc.want {
				t.Errorf("expected value %v, got %v", tc.want, m.Value)
			}
			if m.Systolic != nil || m.Diastolic != nil {
				t.Error("scalar readings must not set blood pressure components")
			}
			if m.VendorGroupID != 9001 {
				t.Errorf("expected vendor group id 9001, got %d", m.VendorGroupID)
			}
			if want := time.Unix(1760000000, 0).UTC(); !m.MeasuredAt.Equal(want) {
				t.Errorf("expected measured_at %v, got %v", want, m.MeasuredAt)
			}
			if m.DeviceModel != "Scale v2" {
				t.Errorf("expected device model carried over, got %q", m.DeviceModel)
			}
		})
	}
}

func TestNormalizeGroup_BloodPressureFoldsIntoOneRow(t *testing.T) {
	g := devicevendor.MeasureGroup{
		GroupID: 9002,
		Date:    1760000000,
		Model:   "BPM Core",
		Measures: []devicevendor.MeasureValue{
			{Value: 120, Type: 10, Unit: 0}, // systolic
			{Value: 80, Type: 9, Unit: 0},   // diastolic
			{Value: 72, Type: 11, Unit: 0},  // pulse from the same cuff
		},
	}
	out := NormalizeGroup("user-1", g)
	if len(out) != 2 {
		t.Fatalf("expected 2 measurements (heart rate + blood pressure), got %d", len(out))
	}

	byType := map[Type]Measurement{}
	for _, m := range out {
		byType[m.Type] = m
	}

	bp, ok := byType[TypeBloodPressure]
	if !ok {
		t.Fatal("expected a blood pressure measurement")
	}
	if bp.Systolic == nil || *bp.Systolic != 120 {
		t.Errorf("expected systolic 120, got %v", bp.Systolic)
	}
	if bp.Diastolic == nil || *bp.Diastolic != 80 {
		t.Errorf("expected diastolic 80, got %v", bp.Diastolic)
	}
	if bp.Value != nil {
		t.Error("blood pressure must not set the scalar value")
	}
	if bp.NaturalKey != "grp-9002-blood_pressure" {
		t.Errorf("unexpected natural key %q", bp.NaturalKey)
	}

	hr, ok := byType[TypeHeartRate]
	if !ok {
		t.Fatal("expected a heart rate measurement from the same group")
	}
	if hr.NaturalKey != "grp-9002-heart_rate" {
		t.Errorf("unexpected natural key %q", hr.NaturalKey)
	}
}

func TestNormalizeGroup_PartialBloodPressure(t *testing.T) {
	g := devicevendor.MeasureGroup{
		GroupID: 9003,
		Date:    1760000000,
		Measures: []devicevendor.MeasureValue{
			{Value: 118, Type: 10, Unit: 0},
		},
	}
	out := NormalizeGroup("user-1", g)
	if len(out) != 1 {
		t.Fatalf("expected 1 measurement, got %d", len(out))
	}
	m := out[0]
	if m.Type != TypeBloodPressure {
		t.Fatalf("expected blood pressure, got %s", m.Type)
	}
	if m.Systolic == nil || *m.Systolic != 118 {
		t.Errorf("expected systolic 118, got %v", m.Systolic)
	}
	if m.Diastolic != nil {
		t.Error("missing diastolic component must stay nil")
	}
}

func TestNormalizeGroup_UnrecognizedCodesDropped(t *testing.T) {
	g := devicevendor.MeasureGroup{
		GroupID: 9004,
		Date:    1760000000,
		Measures: []devicevendor.MeasureValue{
			{Value: 500, Type: 88, Unit: 0}, // bone mass, not in the table
			{Value: 30, Type: 77, Unit: 0},
		},
	}
	if out := NormalizeGroup("user-1", g); len(out) != 0 {
		t.Errorf("expected no measurements from unrecognized codes, got %d", len(out))
	}
}

func TestNormalizeGroup_MixedRecognizedAndUnrecognized(t *testing.T) {
	g := devicevendor.MeasureGroup{
		GroupID: 9005,
		Date:    1760000000,
		Measures: []devicevendor.MeasureValue{
			{Value: 70000, Type: 1, Unit: -3}, // weight
			{Value: 500, Type: 88, Unit: -2},  // unrecognized
		},
	}
	out := NormalizeGroup("user-1", g)
	if len(out) != 1 {
		t.Fatalf("expected 1 measurement, got %d", len(out))
	}
	if out[0].Type != TypeWeight {
		t.Errorf("expected weight, got %s", out[0].Type)
	}
}

func TestNaturalKey_StableAcrossDeliveries(t *testing.T) {
	g := devicevendor.MeasureGroup{
		GroupID: 9006,
		Date:    1760000000,
		Measures: []devicevendor.MeasureValue{
			{Value: 64, Type: 11, Unit: 0},
		},
	}
	first := NormalizeGroup("user-1", g)
	second := NormalizeGroup("user-1", g)
	if first[0].NaturalKey != second[0].NaturalKey {
		t.Errorf("natural key changed between deliveries: %q vs %q",
			first[0].NaturalKey, second[0].NaturalKey)
	}
}
