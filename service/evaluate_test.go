package service

import (
	"math"
	"reflect"
	"testing"

	"github.com/Go-routine-4595/vehicle-diag/model"
)

func batterySnap(tempC, soc, current float64) model.SignalSnapshot {
	return model.SignalSnapshot{
		Kind:          model.Battery,
		TemperatureC:  tempC,
		StateOfCharge: soc,
		Voltage:       398.0,
		Current:       current,
	}
}

func hasReason(eval Evaluation, code model.ReasonCode) bool {
	for _, r := range eval.Reasons {
		if r.Code == code {
			return true
		}
	}
	return false
}

func TestEvaluateBatteryThresholds(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name    string
		snap    model.SignalSnapshot
		level   model.AlertLevel
		reasons []model.ReasonCode
	}{
		{
			name:  "nominal",
			snap:  batterySnap(35.0, 80.0, -12.0),
			level: model.LevelNormal,
		},
		{
			name:    "warn boundary at exactly 60",
			snap:    batterySnap(60.0, 80.0, -12.0),
			level:   model.LevelWarning,
			reasons: []model.ReasonCode{model.ReasonOverTemperature},
		},
		{
			name:    "critical just above 60",
			snap:    batterySnap(60.01, 80.0, -12.0),
			level:   model.LevelCritical,
			reasons: []model.ReasonCode{model.ReasonCriticalTemperature},
		},
		{
			name:    "under temperature",
			snap:    batterySnap(-15.0, 80.0, -12.0),
			level:   model.LevelWarning,
			reasons: []model.ReasonCode{model.ReasonUnderTemperature},
		},
		{
			name:    "low state of charge",
			snap:    batterySnap(30.0, 12.0, -12.0),
			level:   model.LevelWarning,
			reasons: []model.ReasonCode{model.ReasonLowStateOfCharge},
		},
		{
			name:  "combined escalation",
			snap:  batterySnap(65.0, 5.0, -188.0),
			level: model.LevelEmergency,
			reasons: []model.ReasonCode{
				model.ReasonCombinedDegradation,
				model.ReasonCriticalTemperature,
				model.ReasonLowStateOfCharge,
			},
		},
		{
			name:  "no escalation without high current",
			snap:  batterySnap(65.0, 5.0, -0.2),
			level: model.LevelCritical,
			reasons: []model.ReasonCode{
				model.ReasonCriticalTemperature,
				model.ReasonLowStateOfCharge,
			},
		},
		{
			name:  "no escalation at warn temperature",
			snap:  batterySnap(55.0, 5.0, -188.0),
			level: model.LevelWarning,
			reasons: []model.ReasonCode{
				model.ReasonOverTemperature,
				model.ReasonLowStateOfCharge,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := Evaluate(tt.snap, th)
			if eval.Level != tt.level {
				t.Fatalf("level = %v, want %v", eval.Level, tt.level)
			}
			if len(eval.Reasons) != len(tt.reasons) {
				t.Fatalf("got %d reasons %v, want %d", len(eval.Reasons), eval.Reasons, len(tt.reasons))
			}
			for _, code := range tt.reasons {
				if !hasReason(eval, code) {
					t.Errorf("missing reason %#04x in %v", uint16(code), eval.Reasons)
				}
			}
		})
	}
}

func TestEvaluateDominantReasonFirst(t *testing.T) {
	th := DefaultThresholds()

	eval := Evaluate(batterySnap(65.0, 5.0, -188.0), th)
	if eval.Reasons[0].Code != model.ReasonCombinedDegradation {
		t.Fatalf("dominant reason = %#04x, want combined degradation", uint16(eval.Reasons[0].Code))
	}

	eval = Evaluate(batterySnap(65.0, 5.0, -0.2), th)
	if eval.Reasons[0].Code != model.ReasonCriticalTemperature {
		t.Fatalf("dominant reason = %#04x, want critical temperature", uint16(eval.Reasons[0].Code))
	}
}

func TestEvaluateTotalOverNonFinite(t *testing.T) {
	th := DefaultThresholds()

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		snap := batterySnap(35.0, 80.0, -12.0)
		snap.TemperatureC = bad
		eval := Evaluate(snap, th)
		if eval.Level < model.LevelWarning {
			t.Errorf("non-finite temperature classified %v, want at least WARNING", eval.Level)
		}
		if !hasReason(eval, model.ReasonInvalidSignal) {
			t.Errorf("missing InvalidSignal reason for %v", bad)
		}
	}

	// One bad field must not trip unrelated rules.
	snap := batterySnap(35.0, math.NaN(), -12.0)
	eval := Evaluate(snap, th)
	if hasReason(eval, model.ReasonLowStateOfCharge) {
		t.Error("NaN state of charge triggered the low-SoC rule")
	}
}

func TestEvaluateStale(t *testing.T) {
	snap := batterySnap(35.0, 80.0, -12.0)
	snap.Stale = true
	eval := Evaluate(snap, DefaultThresholds())
	if eval.Level != model.LevelWarning || !hasReason(eval, model.ReasonStaleData) {
		t.Fatalf("stale snapshot classified %v %v, want WARNING/StaleData", eval.Level, eval.Reasons)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	th := DefaultThresholds()
	snap := batterySnap(65.0, 5.0, -188.0)
	a := Evaluate(snap, th)
	b := Evaluate(snap, th)
	if a.Level != b.Level || !reflect.DeepEqual(a.Reasons, b.Reasons) {
		t.Fatalf("two evaluations of the same snapshot differ: %v vs %v", a, b)
	}
}

func TestEvaluateMotor(t *testing.T) {
	th := DefaultThresholds()

	snap := model.SignalSnapshot{Kind: model.Motor, TemperatureC: 70.0, MotorTorqueNm: 200, MotorPowerKW: 90}
	if eval := Evaluate(snap, th); eval.Level != model.LevelNormal {
		t.Fatalf("nominal motor classified %v", eval.Level)
	}

	snap.TemperatureC = 92.5
	eval := Evaluate(snap, th)
	if eval.Level != model.LevelWarning || !hasReason(eval, model.ReasonMotorOverTemperature) {
		t.Fatalf("hot motor classified %v %v", eval.Level, eval.Reasons)
	}

	snap.TemperatureC = 105.0
	eval = Evaluate(snap, th)
	if eval.Level != model.LevelCritical || !hasReason(eval, model.ReasonMotorCriticalTemp) {
		t.Fatalf("critical motor classified %v %v", eval.Level, eval.Reasons)
	}

	// Out of plausibility window.
	snap.TemperatureC = -60.0
	eval = Evaluate(snap, th)
	if eval.Level != model.LevelWarning || !hasReason(eval, model.ReasonInvalidSignal) {
		t.Fatalf("implausible motor reading classified %v %v", eval.Level, eval.Reasons)
	}

	snap.TemperatureC = 70.0
	snap.MotorTorqueNm = -1.0
	eval = Evaluate(snap, th)
	if !hasReason(eval, model.ReasonInvalidSignal) {
		t.Fatalf("negative torque classified %v %v", eval.Level, eval.Reasons)
	}
}

func TestEvaluateTires(t *testing.T) {
	th := DefaultThresholds()

	snap := model.SignalSnapshot{Kind: model.TireSet, TirePressuresPSI: [4]float64{32.5, 33.0, 31.8, 32.1}}
	if eval := Evaluate(snap, th); eval.Level != model.LevelNormal {
		t.Fatalf("nominal tires classified %v", eval.Level)
	}

	snap.TirePressuresPSI = [4]float64{26.0, 33.0, 31.8, 32.1}
	eval := Evaluate(snap, th)
	if !hasReason(eval, model.ReasonLowTirePressure) {
		t.Fatalf("low pressure not flagged: %v", eval.Reasons)
	}
	if !hasReason(eval, model.ReasonPressureImbalance) {
		t.Fatalf("front axle imbalance not flagged: %v", eval.Reasons)
	}

	snap.TirePressuresPSI = [4]float64{32.0, 33.0, 38.0, 31.0}
	eval = Evaluate(snap, th)
	if hasReason(eval, model.ReasonLowTirePressure) {
		t.Fatalf("low pressure flagged on nominal pressures: %v", eval.Reasons)
	}
	if !hasReason(eval, model.ReasonPressureImbalance) {
		t.Fatalf("rear axle imbalance not flagged: %v", eval.Reasons)
	}

	snap.TirePressuresPSI = [4]float64{math.NaN(), 33.0, 31.8, 32.1}
	eval = Evaluate(snap, th)
	if eval.Level != model.LevelWarning || !hasReason(eval, model.ReasonInvalidSignal) {
		t.Fatalf("non-finite pressure classified %v %v", eval.Level, eval.Reasons)
	}
}
