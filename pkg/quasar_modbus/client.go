package quasar_modbus

import (
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

type ModbusClient struct {
	client     *modbus.ModbusClient
	instrument []ModbusInstrument
}

type ModbusInstrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

func (c ModbusClient) readRegister(addr uint16) (uint16, error) {
	defer RecordTimer("ReadRegister", c.instrument)()
	return c.client.ReadRegister(addr, modbus.HOLDING_REGISTER)
}

func (c ModbusClient) readRegisters(addr uint16, quantity uint16) ([]uint16, error) {
	defer RecordTimer("ReadRegisters", c.instrument)()
	return c.client.ReadRegisters(addr, quantity, modbus.HOLDING_REGISTER)
}

func (c ModbusClient) writeRegister(addr uint16, value uint16) error {
	defer RecordTimer("WriteRegister", c.instrument)()
	return c.client.WriteRegister(addr, value)
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

func traceLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	if logger == nil {
		return nil
	}
	return &ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug("modbus op", zap.String("fn", fnName), zap.Int64("millis", readTime.Milliseconds()))
		},
	}
}
