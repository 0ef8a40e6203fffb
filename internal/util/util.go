package util

import (
	"github.com/robynrox/evse-controller/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Wallbox: config.WallboxConfig{
			Host:               "-.-.-.-",
			Port:               502,
			UnitId:             1,
			Serial:             "TEST123",
			PollIntervalMillis: 100,
			TimeScale:          0.01,
		},
		Monitor: config.MonitorConfig{
			ShellyHost:         "-.-.-.-",
			GridChannel:        0,
			EvseChannel:        1,
			PollIntervalMillis: 100,
		},
		Charging: config.ChargingConfig{
			MinChargeCurrent:    3,
			MaxChargeCurrent:    32,
			MinDischargeCurrent: 3,
			MaxDischargeCurrent: 32,
			HysteresisWatts:     50,
		},
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "evse",
		},
		Port: 8080,
	}
}
