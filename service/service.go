package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Go-routine-4595/vehicle-diag/model"
)

// Service, instance and event identifiers for the deployed diagnostic
// services. The numeric values come from the deployment configuration;
// the contract toward consumers is the argument/result shape, not the
// numbers themselves, so they live in exactly one place.
const (
	BatteryServiceID uint16 = 0x1001
	TireServiceID    uint16 = 0x1101
	MotorServiceID   uint16 = 0x1201

	InstanceID uint16 = 0x0001

	WarningEventID uint16 = 0x8001

	MethodGetStatus         uint16 = 0x0001
	MethodGetCellVoltages   uint16 = 0x0002
	MethodGetEstimatedRange uint16 = 0x0003
)

// ServiceIDFor maps a subsystem to its diagnostic service id.
func ServiceIDFor(kind model.SubsystemKind) uint16 {
	switch kind {
	case model.Motor:
		return MotorServiceID
	case model.TireSet:
		return TireServiceID
	default:
		return BatteryServiceID
	}
}

// State is the lifecycle of a diagnostic service instance.
type State uint8

const (
	StateUninitialized State = iota
	StateOffered
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOffered:
		return "offered"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

var ErrNotOffered = errors.New("service not in offered state")

// Config carries the evaluator calibration and the derived-estimate
// profile for this deployment.
type Config struct {
	Thresholds Thresholds `yaml:"Thresholds"`

	// Fixed range figures per driving mode selector.
	RangeSportKm  float64 `yaml:"RangeSportKm"`
	RangeNormalKm float64 `yaml:"RangeNormalKm"`
	RangeEcoKm    float64 `yaml:"RangeEcoKm"`

	// GateSubsystem names the subsystem the advisory model was trained
	// for; the gate is never consulted for the other subsystems.
	GateSubsystem string `yaml:"GateSubsystem"`
	GateTimeoutMs int    `yaml:"GateTimeoutMs"`
}

func DefaultConfig() Config {
	return Config{
		Thresholds:    DefaultThresholds(),
		RangeSportKm:  200.0,
		RangeNormalKm: 350.0,
		RangeEcoKm:    500.0,
		GateSubsystem: "battery",
		GateTimeoutMs: 50,
	}
}

// Diagnostics is the signal-evaluation and dispatch core for the three
// subsystem services. It owns the snapshot store, the notifier dedupe
// state and the subscription registry; all transport concerns stay in the
// gateway adapters.
type Diagnostics struct {
	cfg      Config
	logger   zerolog.Logger
	gate     model.IInference
	notifier *Notifier
	registry *registry
	handlers map[methodKey]handlerFunc

	snaps [3]atomic.Pointer[model.SignalSnapshot]

	// stateMu orders lifecycle transitions against in-flight dispatches:
	// Dispatch holds the read side for its whole duration, so Stop either
	// waits for a call to finish or the call observes Stopped up front.
	stateMu sync.RWMutex
	state   State

	gateKind model.SubsystemKind

	// offer acquires the transport when the instance is initialized.
	offer func() error
}

// New builds the core with safe-default stale snapshots for every
// subsystem. gate may be nil; offer may be nil when the transport needs
// no explicit acquisition.
func New(cfg Config, logger zerolog.Logger, gate model.IInference, offer func() error) *Diagnostics {
	s := &Diagnostics{
		cfg:      cfg,
		logger:   logger.With().Str("component", "diagnostics").Logger(),
		gate:     gate,
		notifier: NewNotifier(),
		registry: newRegistry(),
		gateKind: model.KindFromString(cfg.GateSubsystem),
		offer:    offer,
		state:    StateUninitialized,
	}
	s.handlers = newHandlerTable(s)

	now := time.Now().UTC()
	for _, k := range []model.SubsystemKind{model.Battery, model.Motor, model.TireSet} {
		seed := &model.SignalSnapshot{Kind: k, Timestamp: now, Stale: true}
		s.snaps[k].Store(seed)
	}
	return s
}

// Init acquires the transport and moves Uninitialized -> Offered. A
// transport failure fails the whole startup.
func (s *Diagnostics) Init() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != StateUninitialized {
		return errors.New("init in state " + s.state.String())
	}
	if s.offer != nil {
		if err := s.offer(); err != nil {
			return errors.Join(err, errors.New("failed to acquire transport"))
		}
	}
	s.state = StateOffered
	s.logger.Info().Msg("services offered")
	return nil
}

// Start moves Offered -> Running; requests are accepted from here on.
func (s *Diagnostics) Start() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != StateOffered {
		return ErrNotOffered
	}
	s.state = StateRunning
	s.logger.Info().Msg("services running")
	return nil
}

// Stop is idempotent. Pending dispatches either completed before the
// transition or fail fast with SERVICE_UNAVAILABLE.
func (s *Diagnostics) Stop() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == StateStopped {
		return
	}
	s.state = StateStopped
	s.logger.Info().Msg("services stopped")
}

// CurrentState reports the lifecycle state.
func (s *Diagnostics) CurrentState() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Ingest replaces the stored snapshot for its subsystem wholesale,
// re-evaluates it and publishes a warning event when the notifier
// reports a state transition. Readers always observe either the old or
// the new snapshot, never a mix.
func (s *Diagnostics) Ingest(snap model.SignalSnapshot) {
	cp := snap
	s.snaps[clampKind(snap.Kind)].Store(&cp)

	eval := s.evaluate(cp)
	ev := s.notifier.OnEvaluation(cp.Kind, eval, time.Now().UTC())
	if ev == nil {
		return
	}

	s.logger.Info().
		Str("subsystem", cp.Kind.String()).
		Str("level", ev.Level.String()).
		Uint16("code", uint16(ev.Code)).
		Msg("warning transition")

	for handle, sink := range s.registry.snapshotSubscribers(ev.Service, ev.Instance, ev.Event) {
		if err := sink.PublishWarning(*ev); err != nil {
			s.logger.Error().Err(err).Str("subscriber", handle).Msg("event delivery failed")
		}
	}
}

// Snapshot returns the latest consistent snapshot for a subsystem.
func (s *Diagnostics) Snapshot(kind model.SubsystemKind) model.SignalSnapshot {
	return *s.snaps[clampKind(kind)].Load()
}

// Subscribe registers a subscriber handle for an event.
func (s *Diagnostics) Subscribe(service, instance, event uint16, handle string, sink model.IEventSink) {
	s.registry.subscribe(service, instance, event, handle, sink)
	s.logger.Debug().Str("subscriber", handle).Uint16("service", service).Uint16("event", event).Msg("subscribed")
}

// Unsubscribe removes one subscription.
func (s *Diagnostics) Unsubscribe(service, instance, event uint16, handle string) {
	s.registry.unsubscribe(service, instance, event, handle)
}

// DropSubscriber removes every subscription held by a disconnected
// handle.
func (s *Diagnostics) DropSubscriber(handle string) {
	s.registry.dropSubscriber(handle)
	s.logger.Debug().Str("subscriber", handle).Msg("subscriber dropped")
}

// evaluate runs the rule pass and, when an advisory gate is wired,
// composes its score on top. The gate only ever raises NORMAL to WARNING
// or WARNING to CRITICAL; a gate failure leaves the rule result
// authoritative.
func (s *Diagnostics) evaluate(snap model.SignalSnapshot) Evaluation {
	eval := Evaluate(snap, s.cfg.Thresholds)
	if s.gate == nil || snap.Stale || snap.Kind != s.gateKind {
		return eval
	}
	if eval.Level >= model.LevelCritical {
		return eval
	}

	ctx, cancel := gateContext(s.cfg.GateTimeoutMs)
	defer cancel()

	prob, conf, err := s.gate.Score(ctx, gateFeatures(snap))
	if err != nil {
		s.logger.Warn().Err(err).Str("subsystem", snap.Kind.String()).Msg("advisory gate failed, rule result kept")
		return eval
	}
	if prob > s.cfg.Thresholds.GateCriticalProb {
		raised := eval
		raised.Level = eval.Level + 1
		// The raise carries its own reason so the published event never
		// falls back to the cleared code on an escalation from NORMAL.
		raised.Reasons = append(append([]model.WarningReason{}, eval.Reasons...), model.WarningReason{
			Code:    model.ReasonAdvisoryEscalation,
			Message: "Advisory model predicts elevated failure risk",
		})
		s.logger.Info().
			Float64("probability", prob).
			Float64("confidence", conf).
			Str("from", eval.Level.String()).
			Str("to", raised.Level.String()).
			Msg("advisory gate raised alert level")
		return raised
	}
	return eval
}

// gateFeatures builds the advisory feature vector per subsystem, matching
// the classifier's trained input layout.
func gateFeatures(snap model.SignalSnapshot) []float64 {
	switch snap.Kind {
	case model.TireSet:
		p := snap.TirePressuresPSI
		return []float64{p[0], p[1], p[2], p[3]}
	case model.Motor:
		return []float64{snap.TemperatureC, snap.MotorTorqueNm, snap.MotorPowerKW}
	default:
		return []float64{snap.TemperatureC, snap.StateOfCharge, snap.Voltage, snap.Current}
	}
}

// gateContext bounds every advisory call; the core never blocks on the
// classifier.
func gateContext(timeoutMs int) (context.Context, context.CancelFunc) {
	if timeoutMs <= 0 {
		timeoutMs = 50
	}
	return context.WithTimeout(context.Background(), time.Duration(timeoutMs)*time.Millisecond)
}

func clampKind(k model.SubsystemKind) model.SubsystemKind {
	if k > model.TireSet {
		return model.Battery
	}
	return k
}
