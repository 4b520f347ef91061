package controller

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Go-routine-4595/vehicle-diag/model"
)

type ControllerConfig struct {
	Frequency      int    `yaml:"Frequency"`
	MaxDataPoint   int    `yaml:"MaxDataPoint"`
	TelemetryTrace string `yaml:"TelemetryTrace"`
}

// Controller replays a recorded telemetry trace into the diagnostic
// core, one ingestion goroutine per subsystem stream. The trace is a
// jsonl file (one frame per line) captured from the vehicle bus.
type Controller struct {
	frequency    int
	maxDataPoint int
	streams      map[model.SubsystemKind][]model.SignalSnapshot
	diag         model.IDiagnostics
}

// frame is one recorded line of the telemetry trace.
type frame struct {
	Subsystem     string     `json:"subsystem"`
	Stale         bool       `json:"stale,omitempty"`
	TemperatureC  float64    `json:"temperature_c"`
	StateOfCharge float64    `json:"state_of_charge"`
	Voltage       float64    `json:"voltage"`
	Current       float64    `json:"current"`
	CellVoltages  []float64  `json:"cell_voltages,omitempty"`
	TirePressures [4]float64 `json:"tire_pressures_psi"`
	MotorTorqueNm float64    `json:"motor_torque_nm,omitempty"`
	MotorPowerKW  float64    `json:"motor_power_kw,omitempty"`
}

func NewController(conf ControllerConfig, d model.IDiagnostics) Controller {

	f, err := os.Open(conf.TelemetryTrace)
	if err != nil {
		processError(errors.Join(err, errors.New("open telemetry trace file")))
	}
	defer f.Close()

	// jsonl (json object on each line)
	scanner := bufio.NewScanner(f)

	streams := make(map[model.SubsystemKind][]model.SignalSnapshot)

	for scanner.Scan() {
		var item frame

		if len(scanner.Bytes()) != 0 {
			err = json.Unmarshal(scanner.Bytes(), &item)
			if err != nil {
				processError(err)
			}
			snap := item.toSnapshot()
			streams[snap.Kind] = append(streams[snap.Kind], snap)
		}
	}
	if scanner.Err() != nil {
		fmt.Println(scanner.Err())
	}

	return Controller{
		frequency:    conf.Frequency,
		maxDataPoint: conf.MaxDataPoint,
		streams:      streams,
		diag:         d,
	}
}

func (c Controller) Start(ctx context.Context, wg *sync.WaitGroup) {

	for kind, frames := range c.streams {
		wg.Add(1)
		go func(kind model.SubsystemKind, frames []model.SignalSnapshot) {
			for i := 0; i < c.maxDataPoint; i++ {
				snap := frames[i%len(frames)]
				snap.Timestamp = time.Now().UTC()
				c.diag.Ingest(snap)
				select {
				case <-ctx.Done():
					fmt.Println("Controller: ", kind.String(), "context received signal, shutting down...")
					wg.Done()
					return
				default:
					time.Sleep(time.Duration(c.frequency) * time.Second)
				}
			}
			fmt.Println("Controller: ", kind.String(), " trace replay done")
			wg.Done()
		}(kind, frames)
	}
}

func (f frame) toSnapshot() model.SignalSnapshot {
	snap := model.SignalSnapshot{
		Stale:            f.Stale,
		TemperatureC:     f.TemperatureC,
		StateOfCharge:    f.StateOfCharge,
		Voltage:          f.Voltage,
		Current:          f.Current,
		CellVoltages:     f.CellVoltages,
		TirePressuresPSI: f.TirePressures,
		MotorTorqueNm:    f.MotorTorqueNm,
		MotorPowerKW:     f.MotorPowerKW,
	}
	snap.Kind = model.KindFromString(f.Subsystem)
	return snap
}

func processError(err error) {
	fmt.Println(err)
	os.Exit(2)
}
