package domain

import (
	"time"

	"github.com/robynrox/evse-controller/pkg/quasar_modbus"
)

const (
	// BatterySoCUnknown marks a SoC that has never been read.
	BatterySoCUnknown = -1

	// Valid SoC readings. The station reports garbage outside this
	// range during connection setup.
	BatterySoCMin = 5
	BatterySoCMax = 100
)

// ValidBatterySoC reports whether a raw SoC register value can be
// trusted.
func ValidBatterySoC(soc int) bool {
	return soc >= BatterySoCMin && soc <= BatterySoCMax
}

// ChargerState is a copied snapshot of the charger driver state.
// Holders never share the struct with the driver.
type ChargerState struct {
	Status               quasar_modbus.ChargerStatus
	CurrentAmps          int
	BatteryPercent       int
	RemoteProtocolActive bool
	CommsFailure         bool
	ConsecutiveErrors    int
	GuardRemaining       time.Duration
	LastUpdate           time.Time
}

// EffectiveStatus folds the driver-level conditions into the reported
// status.
func (s ChargerState) EffectiveStatus() quasar_modbus.ChargerStatus {
	if s.CommsFailure {
		return quasar_modbus.StatusCommsFailure
	}
	if s.RemoteProtocolActive {
		return quasar_modbus.StatusRemoteProtocol
	}
	return s.Status
}

// NeedsNudge reports whether the station needs a write even though the
// setpoint register already matches: paused with a nonzero setpoint
// needs a start, charging or discharging with a zero setpoint needs a
// stop.
func (s ChargerState) NeedsNudge(desired int) bool {
	if desired != 0 && s.Status == quasar_modbus.StatusPaused {
		return true
	}
	if desired == 0 && s.Status.Active() {
		return true
	}
	return false
}

func (s ChargerState) BatteryFull(maxChargePercent int) bool {
	return s.BatteryPercent >= 0 && s.BatteryPercent >= maxChargePercent
}

func (s ChargerState) BatteryEmpty(minDischargePercent int) bool {
	return s.BatteryPercent >= 0 && s.BatteryPercent <= minDischargePercent
}
