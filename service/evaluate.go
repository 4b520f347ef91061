package service

import (
	"math"

	"github.com/Go-routine-4595/vehicle-diag/model"
)

// Thresholds are the rule cut-offs for every subsystem evaluator.
// The battery figures follow the canonical calibration: warn above 45 C,
// critical strictly above 60 C, under-temperature below -10 C, low state
// of charge below 20 %.
type Thresholds struct {
	BatteryWarnTempC  float64 `yaml:"BatteryWarnTempC"`
	BatteryCritTempC  float64 `yaml:"BatteryCritTempC"`
	BatteryUnderTempC float64 `yaml:"BatteryUnderTempC"`
	LowSoCPct         float64 `yaml:"LowSoCPct"`
	HighCurrentA      float64 `yaml:"HighCurrentA"`

	MotorWarnTempC float64 `yaml:"MotorWarnTempC"`
	MotorCritTempC float64 `yaml:"MotorCritTempC"`

	LowPressurePSI float64 `yaml:"LowPressurePSI"`
	ImbalancePSI   float64 `yaml:"ImbalancePSI"`

	GateCriticalProb float64 `yaml:"GateCriticalProb"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		BatteryWarnTempC:  45.0,
		BatteryCritTempC:  60.0,
		BatteryUnderTempC: -10.0,
		LowSoCPct:         20.0,
		HighCurrentA:      150.0,
		MotorWarnTempC:    85.0,
		MotorCritTempC:    100.0,
		LowPressurePSI:    28.0,
		ImbalancePSI:      5.0,
		GateCriticalProb:  0.7,
	}
}

// Evaluation is the result of one rule pass over a snapshot. Reasons are
// ordered by descending severity so Reasons[0] is the dominant cause.
type Evaluation struct {
	Level   model.AlertLevel
	Reasons []model.WarningReason
}

// Evaluate maps a snapshot to an alert level and the triggered reasons.
// It is pure and total: any representable snapshot, including NaN or
// out-of-range readings, yields a classification rather than a fault.
func Evaluate(snap model.SignalSnapshot, th Thresholds) Evaluation {
	if snap.Stale {
		return Evaluation{
			Level:   model.LevelWarning,
			Reasons: []model.WarningReason{{Code: model.ReasonStaleData, Message: "Stale telemetry"}},
		}
	}

	switch snap.Kind {
	case model.Motor:
		return evaluateMotor(snap, th)
	case model.TireSet:
		return evaluateTires(snap, th)
	default:
		return evaluateBattery(snap, th)
	}
}

func evaluateBattery(snap model.SignalSnapshot, th Thresholds) Evaluation {
	var (
		level   model.AlertLevel
		reasons []model.WarningReason
	)

	add := func(sev model.AlertLevel, code model.ReasonCode, msg string) {
		reasons = append(reasons, model.WarningReason{Code: code, Message: msg})
		if sev > level {
			level = sev
		}
	}

	if !finite(snap.TemperatureC, snap.StateOfCharge, snap.Voltage, snap.Current) {
		add(model.LevelWarning, model.ReasonInvalidSignal, "Invalid sensor signal")
	}

	// NaN compares false against every threshold, so a single bad field
	// never triggers a spurious rule below.
	if snap.TemperatureC > th.BatteryCritTempC {
		add(model.LevelCritical, model.ReasonCriticalTemperature, "Critical temperature - shutdown required")
	} else if snap.TemperatureC > th.BatteryWarnTempC {
		add(model.LevelWarning, model.ReasonOverTemperature, "High temperature")
	}
	if snap.TemperatureC < th.BatteryUnderTempC {
		add(model.LevelWarning, model.ReasonUnderTemperature, "Low temperature")
	}
	if snap.StateOfCharge < th.LowSoCPct {
		add(model.LevelWarning, model.ReasonLowStateOfCharge, "Low state of charge")
	}

	// Conjunctive escalation: hot pack, depleted charge and a high draw
	// together signal thermal runaway risk that the independent rules
	// under-report. Evaluated after all independent reasons.
	if snap.TemperatureC > th.BatteryCritTempC &&
		snap.StateOfCharge < th.LowSoCPct &&
		math.Abs(snap.Current) > th.HighCurrentA {
		reasons = append([]model.WarningReason{{
			Code:    model.ReasonCombinedDegradation,
			Message: "Combined degradation - thermal runaway risk",
		}}, reasons...)
		level = model.LevelEmergency
	}

	return Evaluation{Level: level, Reasons: sortDominantFirst(level, reasons)}
}

func evaluateMotor(snap model.SignalSnapshot, th Thresholds) Evaluation {
	var (
		level   model.AlertLevel
		reasons []model.WarningReason
	)

	add := func(sev model.AlertLevel, code model.ReasonCode, msg string) {
		reasons = append(reasons, model.WarningReason{Code: code, Message: msg})
		if sev > level {
			level = sev
		}
	}

	if !finite(snap.TemperatureC, snap.MotorTorqueNm, snap.MotorPowerKW) ||
		snap.TemperatureC < -50.0 || snap.TemperatureC > 150.0 ||
		snap.MotorTorqueNm < 0 || snap.MotorPowerKW < 0 {
		add(model.LevelWarning, model.ReasonInvalidSignal, "Invalid sensor signal")
		return Evaluation{Level: level, Reasons: reasons}
	}

	if snap.TemperatureC > th.MotorCritTempC {
		add(model.LevelCritical, model.ReasonMotorCriticalTemp, "Motor critical temperature")
	}
	if snap.TemperatureC > th.MotorWarnTempC {
		add(model.LevelWarning, model.ReasonMotorOverTemperature, "Motor temperature high")
	}

	return Evaluation{Level: level, Reasons: sortDominantFirst(level, reasons)}
}

func evaluateTires(snap model.SignalSnapshot, th Thresholds) Evaluation {
	var (
		level   model.AlertLevel
		reasons []model.WarningReason
	)

	add := func(sev model.AlertLevel, code model.ReasonCode, msg string) {
		reasons = append(reasons, model.WarningReason{Code: code, Message: msg})
		if sev > level {
			level = sev
		}
	}

	p := snap.TirePressuresPSI
	if !finite(p[0], p[1], p[2], p[3]) {
		add(model.LevelWarning, model.ReasonInvalidSignal, "Invalid sensor signal")
		return Evaluation{Level: level, Reasons: reasons}
	}

	for _, v := range p {
		if v < th.LowPressurePSI {
			add(model.LevelWarning, model.ReasonLowTirePressure, "Low tire pressure")
			break
		}
	}
	// Front and rear axle deltas.
	if math.Abs(p[0]-p[1]) > th.ImbalancePSI || math.Abs(p[2]-p[3]) > th.ImbalancePSI {
		add(model.LevelWarning, model.ReasonPressureImbalance, "Tire pressure imbalance")
	}

	return Evaluation{Level: level, Reasons: sortDominantFirst(level, reasons)}
}

// sortDominantFirst moves one reason matching the emitted level to the
// front so notification payloads carry the dominant cause. The collection
// order is already severity-descending within a rule block; this only
// guards the mixed cases.
func sortDominantFirst(level model.AlertLevel, reasons []model.WarningReason) []model.WarningReason {
	if len(reasons) < 2 {
		return reasons
	}
	for i, r := range reasons {
		if reasonSeverity(r.Code) == level {
			if i != 0 {
				reasons[0], reasons[i] = reasons[i], reasons[0]
			}
			break
		}
	}
	return reasons
}

func reasonSeverity(code model.ReasonCode) model.AlertLevel {
	switch code {
	case model.ReasonCombinedDegradation:
		return model.LevelEmergency
	case model.ReasonCriticalTemperature, model.ReasonMotorCriticalTemp:
		return model.LevelCritical
	case model.ReasonCleared:
		return model.LevelNormal
	default:
		return model.LevelWarning
	}
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// sanitize replaces non-finite readings with zero so they never reach a
// response payload.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
