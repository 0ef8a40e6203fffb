package domain

// PowerSample is one 1 Hz reading from a two-channel energy monitor.
// Channel 1 measures the grid connection, channel 2 the EVSE circuit.
// Energy accumulators are integrated from instantaneous power between
// consecutive samples, in joules.
type PowerSample struct {
	GridWatts float64
	EvseWatts float64

	GridPowerFactor float64
	EvsePowerFactor float64
	VoltageVolts    float64

	UnixTime int64

	GridImportedJoules float64
	GridExportedJoules float64
	EvseImportedJoules float64
	EvseExportedJoules float64

	// BatteryPercent is the EV battery SoC known at sample time,
	// -1 when unknown.
	BatteryPercent int
}

// HomeWatts is the household demand excluding the EVSE itself.
func (s PowerSample) HomeWatts() float64 {
	return s.GridWatts - s.EvseWatts
}

// AuxPowerSample is one reading from the optional second monitor that
// watches the solar inverter and heat pump circuits.
type AuxPowerSample struct {
	SolarWatts    float64
	HeatPumpWatts float64
	UnixTime      int64
}

// HistoryEntry is one persisted point of the rolling history. Solar and
// heat pump stay zero when no second monitor is configured.
type HistoryEntry struct {
	Timestamp      int64   `json:"ts"`
	GridWatts      float64 `json:"grid_w"`
	EvseWatts      float64 `json:"evse_w"`
	HomeWatts      float64 `json:"home_w"`
	SolarWatts     float64 `json:"solar_w"`
	HeatPumpWatts  float64 `json:"heat_pump_w"`
	VoltageVolts   float64 `json:"voltage"`
	BatteryPercent int     `json:"soc"`
}
