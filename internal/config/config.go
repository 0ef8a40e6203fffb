package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	Wallbox  WallboxConfig  `mapstructure:"wallbox"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Charging ChargingConfig `mapstructure:"charging"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`

	StateFile string `mapstructure:"state_file"`
	Port      uint   `mapstructure:"port"`
	HttpLog   bool   `mapstructure:"http_log"`
}

type WallboxConfig struct {
	Host               string
	Port               uint
	UnitId             uint   `mapstructure:"unit_id"`
	Serial             string `mapstructure:"serial"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	ApiBaseUrl         string `mapstructure:"api_base_url"`
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
	// TimeScale shrinks the guard and recovery timings for bench testing.
	// 1.0 in production.
	TimeScale float64 `mapstructure:"time_scale"`
}

type MonitorConfig struct {
	ShellyHost         string `mapstructure:"shelly_host"`
	GridChannel        uint   `mapstructure:"grid_channel"`
	EvseChannel        uint   `mapstructure:"evse_channel"`
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`

	// optional second Shelly watching the solar and heat pump circuits
	AuxShellyHost   string `mapstructure:"aux_shelly_host"`
	SolarChannel    uint   `mapstructure:"solar_channel"`
	HeatPumpChannel uint   `mapstructure:"heat_pump_channel"`
}

type ChargingConfig struct {
	MinChargeCurrent    uint    `mapstructure:"min_charge_current"`
	MaxChargeCurrent    uint    `mapstructure:"max_charge_current"`
	MinDischargeCurrent uint    `mapstructure:"min_discharge_current"`
	MaxDischargeCurrent uint    `mapstructure:"max_discharge_current"`
	HysteresisWatts     float64 `mapstructure:"hysteresis_watts"`
	DefaultState        string  `mapstructure:"default_state"`
}

type MQTTConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	BaseTopic string `mapstructure:"base_topic"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
