package quasar_modbus

import (
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// QuasarModbusReader talks to a single Wallbox Quasar station over
// Modbus TCP. The station only supports one concurrent session, so the
// owner must serialize all calls.
type QuasarModbusReader struct {
	ModbusClient
}

func CreateQuasarModbusReader(ip string, port uint, unitId uint8, timeout time.Duration,
	logger *zap.Logger, instrumentation *ModbusInstrument) (StationModbusReader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", ip, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	// instrumentation
	var inst []ModbusInstrument
	logInst := traceLoggerInstrumentation(logger.With(zap.String("target", "quasar")).With(zap.Uint8("unit", unitId)))
	if logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	if unitId > 0 {
		err = client.SetUnitId(unitId)
		if err != nil {
			return nil, err
		}
	}
	reader := QuasarModbusReader{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: inst,
		},
	}
	return &reader, nil
}

func (r *QuasarModbusReader) Open() error {
	return r.client.Open()
}

func (r *QuasarModbusReader) Close() error {
	return r.client.Close()
}

func (r *QuasarModbusReader) GetSnapshot() (*StationSnapshot, error) {
	stateReg, err := r.readRegister(REG_CHARGER_STATE)
	if err != nil {
		return nil, err
	}
	socReg, err := r.readRegister(REG_BATTERY_SOC)
	if err != nil {
		return nil, err
	}
	currentReg, err := r.readRegister(REG_CURRENT_SETPOINT)
	if err != nil {
		return nil, err
	}
	return &StationSnapshot{
		Status:      ChargerStatusFromRegister(stateReg),
		CurrentAmps: DecodeCurrent(currentReg),
		BatterySoC:  int16(socReg),
	}, nil
}

// SetCurrent takes Modbus control of the station, writes the setpoint
// and the start/stop action, then releases control. Control is released
// even when an intermediate write fails, so the user-facing controls on
// the station never stay locked out.
func (r *QuasarModbusReader) SetCurrent(amps int16) (err error) {
	if err = r.writeRegister(REG_CONTROL_LOCKOUT, CONTROL_MODBUS); err != nil {
		return err
	}
	defer func() {
		relErr := r.writeRegister(REG_CONTROL_LOCKOUT, CONTROL_USER)
		if err == nil {
			err = relErr
		}
	}()

	if err = r.writeRegister(REG_CURRENT_SETPOINT, EncodeCurrent(amps)); err != nil {
		return err
	}
	action := ACTION_START
	if amps == 0 {
		action = ACTION_STOP
	}
	if err = r.writeRegister(REG_ACTION, action); err != nil {
		return err
	}
	return nil
}
