package events

import (
	. "github.com/robynrox/evse-controller/internal/core/domain"
)

// PowerSampleToUpdateEvents converts one monitor reading into
// telemetry sensor updates.
func PowerSampleToUpdateEvents(s PowerSample) []any {
	var events []any

	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_GRID_POWER,
		},
		Value:    s.GridWatts,
		Decimals: 1,
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_EVSE_POWER,
		},
		Value:    s.EvseWatts,
		Decimals: 1,
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_HOME_POWER,
		},
		Value:    s.HomeWatts(),
		Decimals: 1,
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_GRID_VOLTAGE,
		},
		Value:    s.VoltageVolts,
		Decimals: 1,
	})

	return events
}

// AuxPowerSampleToUpdateEvents converts a second-monitor reading into
// telemetry sensor updates.
func AuxPowerSampleToUpdateEvents(s AuxPowerSample) []any {
	return []any{
		FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_SOLAR_POWER,
			},
			Value:    s.SolarWatts,
			Decimals: 1,
		},
		FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_HEAT_PUMP_POWER,
			},
			Value:    s.HeatPumpWatts,
			Decimals: 1,
		},
	}
}

// ChargerStateToUpdateEvents converts a charger snapshot into
// telemetry sensor updates.
func ChargerStateToUpdateEvents(st ChargerState) []any {
	var events []any

	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CHARGER_STATE,
		},
		Value: st.EffectiveStatus().String(),
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_EVSE_CURRENT,
		},
		Value: float64(st.CurrentAmps),
	})
	if st.BatteryPercent >= 0 {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_BATTERY_SOC,
			},
			Value: float64(st.BatteryPercent),
		})
	}

	return events
}

func ControlStateUpdateEvents(state ControlState) []any {
	return []any{
		TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_CONTROL_STATE,
			},
			Value: state.String(),
		},
	}
}

func RemoteProtocolUpdateEvents(enabled bool) []any {
	return []any{
		BinarySensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_REMOTE_PROTOCOL,
			},
			Value: enabled,
		},
	}
}
