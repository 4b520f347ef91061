package service

import (
	"testing"
	"time"

	"github.com/Go-routine-4595/vehicle-diag/model"
)

func evalOf(level model.AlertLevel, codes ...model.ReasonCode) Evaluation {
	var reasons []model.WarningReason
	for _, c := range codes {
		reasons = append(reasons, model.WarningReason{Code: c, Message: "test"})
	}
	return Evaluation{Level: level, Reasons: reasons}
}

func TestNotifierDedupesIdenticalEvaluations(t *testing.T) {
	n := NewNotifier()
	now := time.Now()

	ev := n.OnEvaluation(model.Battery, evalOf(model.LevelWarning, model.ReasonOverTemperature), now)
	if ev == nil {
		t.Fatal("first elevated evaluation emitted nothing")
	}
	if ev.Level != model.LevelWarning || ev.Code != model.ReasonOverTemperature {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Service != BatteryServiceID || ev.Event != WarningEventID {
		t.Fatalf("event identity = %#04x/%#04x", ev.Service, ev.Event)
	}

	for i := 0; i < 5; i++ {
		if ev := n.OnEvaluation(model.Battery, evalOf(model.LevelWarning, model.ReasonOverTemperature), now); ev != nil {
			t.Fatalf("repeat evaluation %d emitted %+v", i, ev)
		}
	}
}

func TestNotifierEmitsOnLevelIncrease(t *testing.T) {
	n := NewNotifier()
	now := time.Now()

	n.OnEvaluation(model.Battery, evalOf(model.LevelWarning, model.ReasonOverTemperature), now)
	ev := n.OnEvaluation(model.Battery, evalOf(model.LevelCritical, model.ReasonCriticalTemperature), now)
	if ev == nil || ev.Level != model.LevelCritical {
		t.Fatalf("level increase emitted %+v", ev)
	}
}

func TestNotifierEmitsOnReasonSetChange(t *testing.T) {
	n := NewNotifier()
	now := time.Now()

	n.OnEvaluation(model.Battery, evalOf(model.LevelWarning, model.ReasonOverTemperature), now)
	ev := n.OnEvaluation(model.Battery, evalOf(model.LevelWarning, model.ReasonOverTemperature, model.ReasonLowStateOfCharge), now)
	if ev == nil {
		t.Fatal("reason set change emitted nothing")
	}
}

func TestNotifierClearedExactlyOnce(t *testing.T) {
	n := NewNotifier()
	now := time.Now()

	n.OnEvaluation(model.Battery, evalOf(model.LevelCritical, model.ReasonCriticalTemperature), now)

	ev := n.OnEvaluation(model.Battery, evalOf(model.LevelNormal), now)
	if ev == nil || ev.Level != model.LevelNormal || ev.Code != model.ReasonCleared {
		t.Fatalf("cleared event = %+v", ev)
	}

	for i := 0; i < 3; i++ {
		if ev := n.OnEvaluation(model.Battery, evalOf(model.LevelNormal), now); ev != nil {
			t.Fatalf("second NORMAL evaluation emitted %+v", ev)
		}
	}
}

func TestNotifierNormalFromStartStaysSilent(t *testing.T) {
	n := NewNotifier()
	if ev := n.OnEvaluation(model.Battery, evalOf(model.LevelNormal), time.Now()); ev != nil {
		t.Fatalf("initial NORMAL emitted %+v", ev)
	}
}

func TestNotifierTracksSubsystemsIndependently(t *testing.T) {
	n := NewNotifier()
	now := time.Now()

	n.OnEvaluation(model.Battery, evalOf(model.LevelWarning, model.ReasonOverTemperature), now)

	ev := n.OnEvaluation(model.Motor, evalOf(model.LevelWarning, model.ReasonMotorOverTemperature), now)
	if ev == nil {
		t.Fatal("motor transition suppressed by battery state")
	}
	if ev.Service != MotorServiceID {
		t.Fatalf("motor event service = %#04x", ev.Service)
	}
}

func TestNotifierNoEventOnLevelDecreaseSameReasons(t *testing.T) {
	n := NewNotifier()
	now := time.Now()

	n.OnEvaluation(model.Battery, evalOf(model.LevelCritical, model.ReasonCriticalTemperature), now)
	if ev := n.OnEvaluation(model.Battery, evalOf(model.LevelWarning, model.ReasonCriticalTemperature), now); ev != nil {
		t.Fatalf("level decrease with unchanged reasons emitted %+v", ev)
	}
}
