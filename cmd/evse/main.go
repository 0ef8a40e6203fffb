package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/robynrox/evse-controller/internal/adapter/actor"
	"github.com/robynrox/evse-controller/internal/adapter/shelly"
	"github.com/robynrox/evse-controller/internal/adapter/wallbox"
	"github.com/robynrox/evse-controller/internal/config"
	"github.com/robynrox/evse-controller/internal/core/actor"
	"github.com/robynrox/evse-controller/internal/core/domain"
	"github.com/robynrox/evse-controller/internal/core/port"
	"github.com/robynrox/evse-controller/internal/core/service"
	"github.com/robynrox/evse-controller/internal/server"
	"github.com/robynrox/evse-controller/internal/util/actorutil"
	"github.com/robynrox/evse-controller/pkg/quasar_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	cloud := cloudClient(cfg, logger)

	chargerProv, err := chargerActorProvider(cfg, cloud, logger)
	if err != nil {
		panic(err)
	}

	policy := chargeControlPolicy(cfg, logger)
	store := service.NewStateStore(cfg.StateFile)

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterActor(*cfg, chargerProv, monitorActorProvider(cfg, logger),
			auxMonitorActorProvider(cfg, logger),
			ocppActorProvider(cloud, logger), telemetryActorProvider(cfg, logger),
			policy, store, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => EVSE_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("EVSE_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("evse")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	if cfg.MQTT.Host != "" {
		baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
		if err != nil {
			return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
		}
		cfg.MQTT.BaseTopic = baseTopic
	}

	// check bounds
	if cfg.Wallbox.Host == "" {
		return nil, errors.New("config param wallbox.host is required")
	}
	if cfg.Monitor.ShellyHost == "" {
		return nil, errors.New("config param monitor.shelly_host is required")
	}
	if cfg.Wallbox.PollIntervalMillis < 100 {
		return nil, errors.New("config param wallbox.poll_interval_millis should be >= 100")
	}
	if cfg.Monitor.PollIntervalMillis < 100 {
		return nil, errors.New("config param monitor.poll_interval_millis should be >= 100")
	}
	if cfg.Wallbox.TimeScale <= 0 || cfg.Wallbox.TimeScale > 1 {
		return nil, errors.New("config param wallbox.time_scale should be in (0, 1]")
	}
	if cfg.Charging.MaxChargeCurrent > 0 && cfg.Charging.MinChargeCurrent > cfg.Charging.MaxChargeCurrent {
		return nil, errors.New("config param charging.min_charge_current must be <= charging.max_charge_current")
	}
	if cfg.Charging.MaxDischargeCurrent > 0 && cfg.Charging.MinDischargeCurrent > cfg.Charging.MaxDischargeCurrent {
		return nil, errors.New("config param charging.min_discharge_current must be <= charging.max_discharge_current")
	}

	return &cfg, nil
}

func cloudClient(cfg *config.Config, logger *zap.Logger) port.CloudAPI {
	if cfg.Wallbox.Username == "" || cfg.Wallbox.Password == "" || cfg.Wallbox.Serial == "" {
		slog.Info("wallbox cloud credentials not set, remote protocol and restart recovery disabled")
		return nil
	}
	return wallbox.NewCloudAPIClient(cfg.Wallbox.ApiBaseUrl, cfg.Wallbox.Username,
		cfg.Wallbox.Password, cfg.Wallbox.Serial, logger)
}

func chargerActorProvider(cfg *config.Config, cloud port.CloudAPI, logger *zap.Logger) (actor.ChargerActorProvider, error) {

	station, err := quasar_modbus.CreateQuasarModbusReader(cfg.Wallbox.Host,
		cfg.Wallbox.Port, uint8(cfg.Wallbox.UnitId), 1*time.Second, logger, nil)

	if err != nil {
		return nil, err
	}

	return func(es *eventstream.EventStream) *adactor.ChargerActor {
		return adactor.NewChargerActor(cfg, station, cloud, es, nil, logger)
	}, nil
}

func monitorActorProvider(cfg *config.Config, logger *zap.Logger) actor.MonitorActorProvider {
	monitor := shelly.NewEMClient(cfg.Monitor.ShellyHost, int(cfg.Monitor.GridChannel),
		int(cfg.Monitor.EvseChannel), 1*time.Second, logger)
	return func(es *eventstream.EventStream) *adactor.MonitorActor {
		return adactor.NewMonitorActor(cfg, monitor, es, logger)
	}
}

func auxMonitorActorProvider(cfg *config.Config, logger *zap.Logger) actor.AuxMonitorActorProvider {
	if cfg.Monitor.AuxShellyHost == "" {
		return nil
	}
	monitor := shelly.NewAuxEMClient(cfg.Monitor.AuxShellyHost, int(cfg.Monitor.SolarChannel),
		int(cfg.Monitor.HeatPumpChannel), 1*time.Second, logger)
	return func(es *eventstream.EventStream) *adactor.AuxMonitorActor {
		return adactor.NewAuxMonitorActor(cfg, monitor, es, logger)
	}
}

func ocppActorProvider(cloud port.CloudAPI, logger *zap.Logger) actor.OCPPActorProvider {
	return func(es *eventstream.EventStream) *adactor.OCPPActor {
		return adactor.NewOCPPActor(cloud, es, service.NewRetryBackoff(), logger)
	}
}

func telemetryActorProvider(cfg *config.Config, logger *zap.Logger) actor.TelemetryActorProvider {
	return func(es *eventstream.EventStream) *adactor.TelemetryActor {
		return adactor.NewTelemetryActor(cfg, es, logger)
	}
}

func chargeControlPolicy(cfg *config.Config, logger *zap.Logger) port.ChargeControlPolicy {
	policy := service.NewDefaultChargeControlPolicy(logger)
	if cfg.Charging.MaxChargeCurrent > 0 {
		policy.SetChargeRange(domainRange(cfg.Charging.MinChargeCurrent, cfg.Charging.MaxChargeCurrent))
	}
	if cfg.Charging.MaxDischargeCurrent > 0 {
		policy.SetDischargeRange(domainRange(cfg.Charging.MinDischargeCurrent, cfg.Charging.MaxDischargeCurrent))
	}
	if cfg.Charging.HysteresisWatts > 0 {
		policy.HysteresisWatts = cfg.Charging.HysteresisWatts
	}
	return policy
}

func domainRange(min, max uint) domain.CurrentRange {
	return domain.CurrentRange{Min: int(min), Max: int(max)}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.base_topic", "evse")
	viper.SetDefault("wallbox.port", 502)
	viper.SetDefault("wallbox.unit_id", 1)
	viper.SetDefault("wallbox.api_base_url", "https://api.wall-box.com")
	viper.SetDefault("wallbox.poll_interval_millis", 1000)
	viper.SetDefault("wallbox.time_scale", 1.0)
	viper.SetDefault("monitor.grid_channel", 0)
	viper.SetDefault("monitor.evse_channel", 1)
	viper.SetDefault("monitor.solar_channel", 0)
	viper.SetDefault("monitor.heat_pump_channel", 1)
	viper.SetDefault("monitor.poll_interval_millis", 1000)
	viper.SetDefault("charging.min_charge_current", 3)
	viper.SetDefault("charging.max_charge_current", 32)
	viper.SetDefault("charging.min_discharge_current", 3)
	viper.SetDefault("charging.max_discharge_current", 32)
	viper.SetDefault("charging.default_state", "dormant")
	viper.SetDefault("state_file", "evse_state.json")
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.Wallbox.Username = "*redacted*"
	cfg.Wallbox.Password = "*redacted*"
	cfg.Wallbox.Serial = "*redacted*"
	slog.Info("Using", "config", cfg)
}
