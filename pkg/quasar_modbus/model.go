package quasar_modbus

// Holding register map of the Wallbox Quasar station.
const (
	REG_CONTROL_LOCKOUT  uint16 = 0x0051
	REG_ACTION           uint16 = 0x0101
	REG_CURRENT_SETPOINT uint16 = 0x0102
	REG_CHARGER_STATE    uint16 = 0x0219
	REG_BATTERY_SOC      uint16 = 0x021a
)

const (
	CONTROL_USER   uint16 = 0
	CONTROL_MODBUS uint16 = 1

	ACTION_START uint16 = 1
	ACTION_STOP  uint16 = 2
)

type ChargerStatus int16

const (
	StatusDisconnected       ChargerStatus = 0
	StatusCharging           ChargerStatus = 1
	StatusWaitingForCar      ChargerStatus = 2
	StatusWaitingForSchedule ChargerStatus = 3
	StatusPaused             ChargerStatus = 4
	StatusError              ChargerStatus = 7
	StatusPowerDemandTooHigh ChargerStatus = 10
	StatusDischarging        ChargerStatus = 11

	// driver-level conditions, never read from a register
	StatusUnknown        ChargerStatus = -1
	StatusRemoteProtocol ChargerStatus = -2
	StatusCommsFailure   ChargerStatus = -3
)

func ChargerStatusFromRegister(value uint16) ChargerStatus {
	switch ChargerStatus(value) {
	case StatusDisconnected, StatusCharging, StatusWaitingForCar,
		StatusWaitingForSchedule, StatusPaused, StatusError,
		StatusPowerDemandTooHigh, StatusDischarging:
		return ChargerStatus(value)
	default:
		return StatusUnknown
	}
}

func (s ChargerStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusCharging:
		return "charging"
	case StatusWaitingForCar:
		return "waiting_for_car"
	case StatusWaitingForSchedule:
		return "waiting_for_schedule"
	case StatusPaused:
		return "paused"
	case StatusError:
		return "error"
	case StatusPowerDemandTooHigh:
		return "power_demand_too_high"
	case StatusDischarging:
		return "discharging"
	case StatusRemoteProtocol:
		return "remote_protocol"
	case StatusCommsFailure:
		return "comms_failure"
	default:
		return "unknown"
	}
}

// Active reports whether the station is currently moving energy.
func (s ChargerStatus) Active() bool {
	return s == StatusCharging || s == StatusDischarging
}

// StationSnapshot is the result of a single poll cycle.
type StationSnapshot struct {
	Status      ChargerStatus
	CurrentAmps int16
	BatterySoC  int16
}

type StationModbusReader interface {
	Open() error
	Close() error
	GetSnapshot() (*StationSnapshot, error)
	SetCurrent(amps int16) error
}
