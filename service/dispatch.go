package service

import (
	"github.com/Go-routine-4595/vehicle-diag/model"
)

type methodKey struct {
	service uint16
	method  uint16
}

// handlerFunc decodes the request payload, reads a single consistent
// snapshot and builds the semantic response body. Handlers never mutate
// snapshot state.
type handlerFunc func(req model.ServiceRequest) (any, model.ReturnCode)

// BatteryStatus is the GetStatus response body for the battery service.
// Field names follow the deployed payload contract.
type BatteryStatus struct {
	SoC          float64 `json:"soc"`
	Voltage      float64 `json:"voltage"`
	Current      float64 `json:"current"`
	Temperature  float64 `json:"temperature"`
	HealthStatus uint8   `json:"health_status"`
}

// CellVoltages is the GetCellVoltages response body.
type CellVoltages struct {
	Cells []float64 `json:"cell_voltages"`
}

// EstimatedRange is the GetEstimatedRange response body.
type EstimatedRange struct {
	RangeKm float64 `json:"range_km"`
}

// TireStatus is the GetStatus response body for the tire service.
type TireStatus struct {
	PressureFL   float64 `json:"tire_pressure_fl"`
	PressureFR   float64 `json:"tire_pressure_fr"`
	PressureRL   float64 `json:"tire_pressure_rl"`
	PressureRR   float64 `json:"tire_pressure_rr"`
	FailureRisk  float64 `json:"failure_risk"`
	HealthStatus uint8   `json:"health_status"`
}

// MotorHealth is the GetStatus response body for the motor service.
type MotorHealth struct {
	Temperature  float64 `json:"motor_temperature"`
	Torque       float64 `json:"motor_torque"`
	Power        float64 `json:"motor_power"`
	HealthStatus uint8   `json:"health_status"`
}

// Dispatch routes a request to its handler. Unknown (service, method)
// pairs return METHOD_NOT_FOUND; any lifecycle state other than Running
// returns SERVICE_UNAVAILABLE. Dispatch never panics and never mutates
// the snapshot store.
func (s *Diagnostics) Dispatch(req model.ServiceRequest) model.ServiceResponse {
	resp := model.ServiceResponse{
		Service:  req.Service,
		Instance: req.Instance,
		Method:   req.Method,
	}

	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.state != StateRunning {
		resp.Code = model.CodeServiceUnavailable
		return resp
	}

	h, ok := s.handlers[methodKey{req.Service, req.Method}]
	if !ok {
		s.logger.Warn().
			Uint16("service", req.Service).
			Uint16("method", req.Method).
			Msg("unknown method")
		resp.Code = model.CodeMethodNotFound
		return resp
	}

	body, code := h(req)
	resp.Code = code
	if code == model.CodeOK {
		resp.Body = body
	}
	return resp
}

// newHandlerTable binds every (service, method) pair the deployment
// offers. The table is immutable after construction; adding a method to
// the constants above without a row here is a wiring bug caught by the
// dispatch tests.
func newHandlerTable(s *Diagnostics) map[methodKey]handlerFunc {
	return map[methodKey]handlerFunc{
		{BatteryServiceID, MethodGetStatus}:         s.getBatteryStatus,
		{BatteryServiceID, MethodGetCellVoltages}:   s.getCellVoltages,
		{BatteryServiceID, MethodGetEstimatedRange}: s.getEstimatedRange,
		{TireServiceID, MethodGetStatus}:            s.getTireStatus,
		{MotorServiceID, MethodGetStatus}:           s.getMotorHealth,
	}
}

func (s *Diagnostics) getBatteryStatus(_ model.ServiceRequest) (any, model.ReturnCode) {
	snap := s.Snapshot(model.Battery)
	eval := s.evaluate(snap)
	return BatteryStatus{
		SoC:          sanitize(snap.StateOfCharge),
		Voltage:      sanitize(snap.Voltage),
		Current:      sanitize(snap.Current),
		Temperature:  sanitize(snap.TemperatureC),
		HealthStatus: uint8(eval.Level),
	}, model.CodeOK
}

func (s *Diagnostics) getCellVoltages(_ model.ServiceRequest) (any, model.ReturnCode) {
	snap := s.Snapshot(model.Battery)
	cells := make([]float64, len(snap.CellVoltages))
	for i, v := range snap.CellVoltages {
		cells[i] = sanitize(v)
	}
	return CellVoltages{Cells: cells}, model.CodeOK
}

// getEstimatedRange maps the 1-byte driving mode selector to the fixed
// configured estimate. The mapping is total over {0,1,2} and rejects
// everything else, undersized payloads included.
func (s *Diagnostics) getEstimatedRange(req model.ServiceRequest) (any, model.ReturnCode) {
	if len(req.Payload) < 1 {
		return nil, model.CodeInvalidArgument
	}
	switch req.Payload[0] {
	case 0:
		return EstimatedRange{RangeKm: s.cfg.RangeSportKm}, model.CodeOK
	case 1:
		return EstimatedRange{RangeKm: s.cfg.RangeNormalKm}, model.CodeOK
	case 2:
		return EstimatedRange{RangeKm: s.cfg.RangeEcoKm}, model.CodeOK
	default:
		s.logger.Warn().Uint8("mode", req.Payload[0]).Msg("driving mode outside enumeration")
		return nil, model.CodeInvalidArgument
	}
}

func (s *Diagnostics) getTireStatus(_ model.ServiceRequest) (any, model.ReturnCode) {
	snap := s.Snapshot(model.TireSet)
	eval := s.evaluate(snap)
	return TireStatus{
		PressureFL:   sanitize(snap.TirePressuresPSI[0]),
		PressureFR:   sanitize(snap.TirePressuresPSI[1]),
		PressureRL:   sanitize(snap.TirePressuresPSI[2]),
		PressureRR:   sanitize(snap.TirePressuresPSI[3]),
		FailureRisk:  s.failureRisk(snap),
		HealthStatus: uint8(eval.Level),
	}, model.CodeOK
}

func (s *Diagnostics) getMotorHealth(_ model.ServiceRequest) (any, model.ReturnCode) {
	snap := s.Snapshot(model.Motor)
	eval := s.evaluate(snap)
	return MotorHealth{
		Temperature:  sanitize(snap.TemperatureC),
		Torque:       sanitize(snap.MotorTorqueNm),
		Power:        sanitize(snap.MotorPowerKW),
		HealthStatus: uint8(eval.Level),
	}, model.CodeOK
}

// failureRisk surfaces the advisory probability when the gate is wired;
// without it the field stays zero, the rule result alone is reported.
func (s *Diagnostics) failureRisk(snap model.SignalSnapshot) float64 {
	if s.gate == nil || snap.Stale || snap.Kind != s.gateKind {
		return 0
	}
	ctx, cancel := gateContext(s.cfg.GateTimeoutMs)
	defer cancel()
	prob, _, err := s.gate.Score(ctx, gateFeatures(snap))
	if err != nil {
		s.logger.Warn().Err(err).Msg("advisory gate failed, risk omitted")
		return 0
	}
	return prob
}
