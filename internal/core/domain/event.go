package domain

import "fmt"

// Sensor ids used on the telemetry topics.
const (
	SENSOR_ID_GRID_POWER      = "grid_power"
	SENSOR_ID_EVSE_POWER      = "evse_power"
	SENSOR_ID_HOME_POWER      = "home_power"
	SENSOR_ID_SOLAR_POWER     = "solar_power"
	SENSOR_ID_HEAT_PUMP_POWER = "heat_pump_power"
	SENSOR_ID_GRID_VOLTAGE    = "grid_voltage"
	SENSOR_ID_BATTERY_SOC     = "battery_soc"
	SENSOR_ID_CHARGER_STATE   = "charger_state"
	SENSOR_ID_EVSE_CURRENT    = "evse_current"

	SENSOR_ID_CONTROL_STATE   = "control_state"
	SENSOR_ID_REMOTE_PROTOCOL = "remote_protocol"

	SENSOR_ID_BRIDGE_VERSION = "bridge_version"
)

// Events published on the process event stream.

// PowerSampleEvent carries one monitor reading.
type PowerSampleEvent struct {
	Sample PowerSample
}

// AuxPowerSampleEvent carries one reading from the optional second
// monitor.
type AuxPowerSampleEvent struct {
	Sample AuxPowerSample
}

// ChargerStateEvent carries a charger driver snapshot after each poll
// or state change.
type ChargerStateEvent struct {
	State ChargerState
}

// RemoteProtocolResultEvent reports the outcome of an OCPP job,
// including exhausted retries. On failure State carries the last known
// cached configuration unchanged.
type RemoteProtocolResultEvent struct {
	Command string
	Success bool
	State   *RemoteProtocolState
	Error   string
}

// Telemetry update events, consumed by the MQTT bridge.

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type BinarySensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}
