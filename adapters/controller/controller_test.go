package controller

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Go-routine-4595/vehicle-diag/model"
)

type recordingDiag struct {
	mu    sync.Mutex
	snaps []model.SignalSnapshot
}

func (r *recordingDiag) Dispatch(req model.ServiceRequest) model.ServiceResponse {
	return model.ServiceResponse{}
}

func (r *recordingDiag) Ingest(snap model.SignalSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

func (r *recordingDiag) Subscribe(service, instance, event uint16, handle string, sink model.IEventSink) {
}
func (r *recordingDiag) Unsubscribe(service, instance, event uint16, handle string) {}
func (r *recordingDiag) DropSubscriber(handle string)                               {}

func (r *recordingDiag) kinds() map[model.SubsystemKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[model.SubsystemKind]int)
	for _, s := range r.snaps {
		out[s.Kind]++
	}
	return out
}

const trace = `{"subsystem":"battery","temperature_c":32.5,"state_of_charge":84.0,"voltage":398.2,"current":-14.6}
{"subsystem":"tire-set","tire_pressures_psi":[32.5,33.0,31.8,32.1]}
{"subsystem":"motor","temperature_c":68.0,"motor_torque_nm":212.0,"motor_power_kw":96.0}

{"subsystem":"battery","stale":true}
`

func writeTrace(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	if err := os.WriteFile(path, []byte(trace), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestControllerGroupsTraceBySubsystem(t *testing.T) {
	diag := &recordingDiag{}
	c := NewController(ControllerConfig{Frequency: 0, MaxDataPoint: 1, TelemetryTrace: writeTrace(t)}, diag)

	if len(c.streams[model.Battery]) != 2 {
		t.Fatalf("battery stream has %d frames, want 2", len(c.streams[model.Battery]))
	}
	if len(c.streams[model.TireSet]) != 1 || len(c.streams[model.Motor]) != 1 {
		t.Fatalf("stream sizes: tires %d, motor %d", len(c.streams[model.TireSet]), len(c.streams[model.Motor]))
	}

	if !c.streams[model.Battery][1].Stale {
		t.Fatal("stale frame lost its marker")
	}
	if got := c.streams[model.TireSet][0].TirePressuresPSI; got != [4]float64{32.5, 33.0, 31.8, 32.1} {
		t.Fatalf("tire pressures = %v", got)
	}
}

func TestControllerReplaysIntoCore(t *testing.T) {
	diag := &recordingDiag{}
	c := NewController(ControllerConfig{Frequency: 0, MaxDataPoint: 2, TelemetryTrace: writeTrace(t)}, diag)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := &sync.WaitGroup{}
	c.Start(ctx, wg)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("replay did not finish")
	}

	kinds := diag.kinds()
	if kinds[model.Battery] != 2 || kinds[model.TireSet] != 2 || kinds[model.Motor] != 2 {
		t.Fatalf("ingested frame counts: %v", kinds)
	}
}
