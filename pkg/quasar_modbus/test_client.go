package quasar_modbus

import (
	"errors"
	"sync"
)

func CreateTestStationModbusReader() *TestStationModbusReader {
	return &TestStationModbusReader{
		Status:     StatusPaused,
		BatterySoC: 50,
	}
}

// TestStationModbusReader simulates a Quasar station in memory. Writes
// through SetCurrent update the simulated status the way the real
// station does.
type TestStationModbusReader struct {
	mu sync.Mutex

	Status      ChargerStatus
	CurrentAmps int16
	BatterySoC  int16

	// when > 0, every call fails and the counter decrements
	FailNextCalls int

	SetCurrentCalls []int16
}

func (r *TestStationModbusReader) Open() error {
	return nil
}

func (r *TestStationModbusReader) Close() error {
	return nil
}

func (r *TestStationModbusReader) GetSnapshot() (*StationSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailNextCalls > 0 {
		r.FailNextCalls--
		return nil, errors.New("simulated modbus read failure")
	}
	return &StationSnapshot{
		Status:      r.Status,
		CurrentAmps: r.CurrentAmps,
		BatterySoC:  r.BatterySoC,
	}, nil
}

func (r *TestStationModbusReader) SetCurrent(amps int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailNextCalls > 0 {
		r.FailNextCalls--
		return errors.New("simulated modbus write failure")
	}
	r.SetCurrentCalls = append(r.SetCurrentCalls, amps)
	r.CurrentAmps = amps
	switch {
	case amps > 0:
		r.Status = StatusCharging
	case amps < 0:
		r.Status = StatusDischarging
	default:
		r.Status = StatusPaused
	}
	return nil
}

// Fail arms the reader to fail the next n calls.
func (r *TestStationModbusReader) Fail(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FailNextCalls = n
}

// SetSoC changes the simulated battery state of charge.
func (r *TestStationModbusReader) SetSoC(soc int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.BatterySoC = soc
}
