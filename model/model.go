package model

import (
	"context"
	"time"
)

// SubsystemKind identifies which vehicle subsystem a snapshot or a
// diagnostic service instance belongs to.
type SubsystemKind uint8

const (
	Battery SubsystemKind = iota
	Motor
	TireSet
)

func (k SubsystemKind) String() string {
	switch k {
	case Battery:
		return "battery"
	case Motor:
		return "motor"
	case TireSet:
		return "tire-set"
	}
	return "unknown"
}

// KindFromString parses the subsystem name used in traces and
// configuration. Unknown names map to Battery, the canonical subsystem.
func KindFromString(s string) SubsystemKind {
	switch s {
	case "motor":
		return Motor
	case "tire-set":
		return TireSet
	default:
		return Battery
	}
}

// AlertLevel is a totally ordered severity classification.
// The ordinal values go on the wire, do not reorder.
type AlertLevel uint8

const (
	LevelNormal AlertLevel = iota
	LevelWarning
	LevelCritical
	LevelEmergency
)

func (l AlertLevel) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case LevelWarning:
		return "WARNING"
	case LevelCritical:
		return "CRITICAL"
	case LevelEmergency:
		return "EMERGENCY"
	}
	return "UNKNOWN"
}

// ReasonCode is the 16-bit warning code carried in event payloads.
type ReasonCode uint16

const (
	ReasonCleared              ReasonCode = 0x0000
	ReasonLowStateOfCharge     ReasonCode = 0x0001
	ReasonOverTemperature      ReasonCode = 0x0002
	ReasonCriticalTemperature  ReasonCode = 0x0003
	ReasonUnderTemperature     ReasonCode = 0x0004
	ReasonCombinedDegradation  ReasonCode = 0x0005
	ReasonStaleData            ReasonCode = 0x0006
	ReasonInvalidSignal        ReasonCode = 0x0007
	ReasonLowTirePressure      ReasonCode = 0x0101
	ReasonPressureImbalance    ReasonCode = 0x0102
	ReasonMotorOverTemperature ReasonCode = 0x0201
	ReasonMotorCriticalTemp    ReasonCode = 0x0202
	ReasonAdvisoryEscalation   ReasonCode = 0x0301
)

// WarningReason is one triggered cause of an elevated AlertLevel.
type WarningReason struct {
	Code    ReasonCode `json:"warning_code"`
	Message string     `json:"warning_message"`
}

// SignalSnapshot is the latest full set of readings for one subsystem.
// A snapshot is replaced wholesale on every ingestion cycle; it is never
// mutated field by field after publication. Stale marks a snapshot whose
// source has stopped reporting.
type SignalSnapshot struct {
	Kind      SubsystemKind `json:"kind"`
	Timestamp time.Time     `json:"timestamp"`
	Stale     bool          `json:"stale"`

	TemperatureC  float64 `json:"temperature_c"`
	StateOfCharge float64 `json:"state_of_charge"`
	Voltage       float64 `json:"voltage"`
	Current       float64 `json:"current"`

	CellVoltages []float64 `json:"cell_voltages,omitempty"`

	TirePressuresPSI [4]float64 `json:"tire_pressures_psi"`

	MotorTorqueNm float64 `json:"motor_torque_nm,omitempty"`
	MotorPowerKW  float64 `json:"motor_power_kw,omitempty"`
}

// ReturnCode classifies the outcome of a dispatched request.
type ReturnCode uint8

const (
	CodeOK ReturnCode = iota
	CodeMethodNotFound
	CodeInvalidArgument
	CodeServiceUnavailable
)

func (c ReturnCode) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeMethodNotFound:
		return "METHOD_NOT_FOUND"
	case CodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case CodeServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	}
	return "UNKNOWN"
}

// ServiceRequest is one request delivered by the bus. Payload is the raw
// method argument bytes; decoding them is the handler's job.
type ServiceRequest struct {
	Service  uint16 `json:"service"`
	Instance uint16 `json:"instance"`
	Method   uint16 `json:"method"`
	Client   string `json:"client,omitempty"`
	Payload  []byte `json:"payload,omitempty"`
}

// ServiceResponse carries the semantic result; the transport owns the
// byte-level encoding.
type ServiceResponse struct {
	Service  uint16     `json:"service"`
	Instance uint16     `json:"instance"`
	Method   uint16     `json:"method"`
	Code     ReturnCode `json:"code"`
	Body     any        `json:"body,omitempty"`
}

// WarningEvent is published to every current subscriber of
// (Service, Instance, Event) on an alert transition.
type WarningEvent struct {
	Service   uint16     `json:"service"`
	Instance  uint16     `json:"instance"`
	Event     uint16     `json:"event"`
	Level     AlertLevel `json:"level"`
	Code      ReasonCode `json:"warning_code"`
	Message   string     `json:"warning_message"`
	Timestamp time.Time  `json:"timestamp"`
}

// IDiagnostics is the driving port of the diagnostic core.
type IDiagnostics interface {
	Dispatch(req ServiceRequest) ServiceResponse
	Ingest(snap SignalSnapshot)
	Subscribe(service, instance, event uint16, handle string, sink IEventSink)
	Unsubscribe(service, instance, event uint16, handle string)
	DropSubscriber(handle string)
}

// IEventSink receives warning events; gateways implement it.
type IEventSink interface {
	PublishWarning(ev WarningEvent) error
}

// IInference is the optional advisory classifier. Probability is in
// [0,1]; an error means the gate output must be ignored, never that the
// evaluation fails.
type IInference interface {
	Score(ctx context.Context, features []float64) (probability float64, confidence float64, err error)
}
