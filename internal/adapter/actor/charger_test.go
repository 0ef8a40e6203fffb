package actor

import (
	"testing"
	"time"

	"github.com/robynrox/evse-controller/internal/adapter/wallbox"
	"github.com/robynrox/evse-controller/internal/core/domain"
	"github.com/robynrox/evse-controller/internal/util"
	"github.com/robynrox/evse-controller/internal/util/actorutil"
	"github.com/robynrox/evse-controller/pkg/quasar_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestChargerActorPollAndSetCurrent(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	station := quasar_modbus.CreateTestStationModbusReader()
	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root
	es := eventstream.EventStream{}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewChargerActor(&cfg, station, nil, &es, nil, logger)
	})
	pid := context.Spawn(props)

	// let a couple of polls land
	time.Sleep(500 * time.Millisecond)

	result, err := context.RequestFuture(pid, domain.ChargerGetStateRequest{}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	state := result.(domain.ChargerGetStateResponse).State
	assert.Equal(quasar_modbus.StatusPaused, state.Status, "initial status")
	assert.Equal(50, state.BatteryPercent, "initial SoC")
	assert.False(state.CommsFailure)

	// first write goes through
	result, err = context.RequestFuture(pid, domain.ChargerSetCurrentRequest{Amps: 5}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp := result.(domain.ChargerSetCurrentResponse)
	assert.True(resp.Applied, "first write applied")
	assert.Equal(5, resp.Amps)

	// second write lands inside the guard window and is held
	result, err = context.RequestFuture(pid, domain.ChargerSetCurrentRequest{Amps: 7}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp = result.(domain.ChargerSetCurrentResponse)
	assert.False(resp.Applied, "second write held by guard")
	assert.True(resp.GuardRemaining > 0, "guard window reported")

	// the held setpoint is applied once the window expires
	time.Sleep(1 * time.Second)
	assert.Contains(station.SetCurrentCalls, int16(5))
	assert.Contains(station.SetCurrentCalls, int16(7))

	context.Stop(pid)
	as.Shutdown()
}

func TestChargerActorNoOpWrite(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	station := quasar_modbus.CreateTestStationModbusReader()
	station.Status = quasar_modbus.StatusCharging
	station.CurrentAmps = 6
	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root
	es := eventstream.EventStream{}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewChargerActor(&cfg, station, nil, &es, nil, logger)
	})
	pid := context.Spawn(props)

	time.Sleep(300 * time.Millisecond)

	// setpoint equals the station value in a matching protocol state,
	// no register traffic
	result, err := context.RequestFuture(pid, domain.ChargerSetCurrentRequest{Amps: 6}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp := result.(domain.ChargerSetCurrentResponse)
	assert.False(resp.Applied, "no-op write")
	assert.Empty(station.SetCurrentCalls)

	context.Stop(pid)
	as.Shutdown()
}

func TestChargerActorFiltersInvalidSoC(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	station := quasar_modbus.CreateTestStationModbusReader()
	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root
	es := eventstream.EventStream{}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewChargerActor(&cfg, station, nil, &es, nil, logger)
	})
	pid := context.Spawn(props)

	time.Sleep(300 * time.Millisecond)

	// the station reports garbage during connection setup, the cached
	// reading must survive it
	station.SetSoC(240)
	time.Sleep(300 * time.Millisecond)

	result, err := context.RequestFuture(pid, domain.ChargerGetStateRequest{}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	state := result.(domain.ChargerGetStateResponse).State
	assert.Equal(50, state.BatteryPercent, "garbage reading rejected")

	station.SetSoC(80)
	time.Sleep(300 * time.Millisecond)

	result, err = context.RequestFuture(pid, domain.ChargerGetStateRequest{}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	state = result.(domain.ChargerGetStateResponse).State
	assert.Equal(80, state.BatteryPercent, "valid reading accepted")

	context.Stop(pid)
	as.Shutdown()
}

func TestChargerActorCommsFailureAndRecovery(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	station := quasar_modbus.CreateTestStationModbusReader()
	cloud := wallbox.NewTestCloudAPI()
	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root
	es := eventstream.EventStream{}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewChargerActor(&cfg, station, cloud, &es, nil, logger)
	})
	pid := context.Spawn(props)

	time.Sleep(200 * time.Millisecond)
	station.Fail(15)

	// 15 failed polls at 100 ms cross the threshold of 10
	time.Sleep(1200 * time.Millisecond)

	result, err := context.RequestFuture(pid, domain.ChargerGetStateRequest{}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	state := result.(domain.ChargerGetStateResponse).State
	assert.True(state.CommsFailure, "comms failure entered")
	assert.Equal(quasar_modbus.StatusCommsFailure, state.EffectiveStatus())

	health, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	assert.False(health.(domain.ActorHealthResponse).Healthy, "unhealthy while failed")

	// cloud restart requested exactly once inside the cooldown
	time.Sleep(500 * time.Millisecond)
	assert.Equal(1, cloud.Restarts(), "one restart per cooldown")

	// polls succeed again, the failure clears
	result, err = context.RequestFuture(pid, domain.ChargerGetStateRequest{}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	state = result.(domain.ChargerGetStateResponse).State
	assert.False(state.CommsFailure, "comms failure cleared")
	assert.Equal(quasar_modbus.StatusPaused, state.Status)

	context.Stop(pid)
	as.Shutdown()
}

func TestChargerActorRestartRepeatsWhileCommsDown(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	cfg.Wallbox.TimeScale = 0.001
	station := quasar_modbus.CreateTestStationModbusReader()
	cloud := wallbox.NewTestCloudAPI()
	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root
	es := eventstream.EventStream{}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewChargerActor(&cfg, station, cloud, &es, nil, logger)
	})
	pid := context.Spawn(props)

	time.Sleep(200 * time.Millisecond)
	station.Fail(1 << 30)

	// the link stays down across several 420 ms cooldowns, each one
	// must produce a fresh restart request
	time.Sleep(3 * time.Second)

	result, err := context.RequestFuture(pid, domain.ChargerGetStateRequest{}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	state := result.(domain.ChargerGetStateResponse).State
	assert.True(state.CommsFailure, "still failed")
	assert.GreaterOrEqual(cloud.Restarts(), 2, "restart re-attempted after each cooldown")

	context.Stop(pid)
	as.Shutdown()
}

func TestChargerActorRemoteProtocolMode(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	station := quasar_modbus.CreateTestStationModbusReader()
	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root
	es := eventstream.EventStream{}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewChargerActor(&cfg, station, nil, &es, nil, logger)
	})
	pid := context.Spawn(props)

	time.Sleep(300 * time.Millisecond)

	result, err := context.RequestFuture(pid, domain.ChargerSetRemoteProtocolModeRequest{Enable: true}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	assert.True(result.(domain.ChargerSetRemoteProtocolModeResponse).Enabled)

	// writes are suppressed while the remote protocol owns the station
	result, err = context.RequestFuture(pid, domain.ChargerSetCurrentRequest{Amps: 10}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	assert.False(result.(domain.ChargerSetCurrentResponse).Applied)
	assert.Empty(station.SetCurrentCalls)

	// polling continues, state keeps updating
	result, err = context.RequestFuture(pid, domain.ChargerGetStateRequest{}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	state := result.(domain.ChargerGetStateResponse).State
	assert.True(state.RemoteProtocolActive)
	assert.Equal(quasar_modbus.StatusRemoteProtocol, state.EffectiveStatus())

	context.Stop(pid)
	as.Shutdown()
}
