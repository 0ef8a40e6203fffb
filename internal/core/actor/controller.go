package actor

import (
	"fmt"
	"time"

	"github.com/robynrox/evse-controller/internal/config"
	"github.com/robynrox/evse-controller/internal/core/domain"
	"github.com/robynrox/evse-controller/internal/core/events"
	"github.com/robynrox/evse-controller/internal/core/port"
	"github.com/robynrox/evse-controller/internal/core/service"
	. "github.com/robynrox/evse-controller/internal/util/actorutil"
	"github.com/robynrox/evse-controller/pkg/quasar_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// ControllerActor runs the control loop: every power sample is turned
// into a desired current through the policy and pushed to the charger
// actor. It is the single writer of the control state, so no locks
// protect any of its fields.
type ControllerActor struct {
	ActorWithStates
	stash *Stash

	config       *config.Config
	chargerActor *actor.PID
	ocppActor    *actor.PID
	eventStream  *eventstream.EventStream
	policy       port.ChargeControlPolicy
	store        *service.StateStore
	history      *service.HistoryRing

	controlState domain.ControlState
	desiredAmps  int
	chargerState domain.ChargerState
	lastSample   *domain.PowerSample
	lastAux      domain.AuxPowerSample
	persisted    service.PersistentState

	energyBoundary int64
	energySnapshot service.PowerSnapshot

	eventStreamSub *eventstream.Subscription

	logger *zap.Logger
}

func NewControllerActor(config *config.Config, chargerActor, ocppActor *actor.PID, eventStream *eventstream.EventStream,
	policy port.ChargeControlPolicy, store *service.StateStore, logger *zap.Logger) *ControllerActor {
	act := &ControllerActor{
		config:       config,
		chargerActor: chargerActor,
		ocppActor:    ocppActor,
		eventStream:  eventStream,
		policy:       policy,
		store:        store,
		stash:        &Stash{},
		history:      service.NewHistoryRing(service.DefaultHistoryCapacity),
		controlState: defaultControlState(config),
		chargerState: domain.ChargerState{
			Status:         quasar_modbus.StatusUnknown,
			BatteryPercent: domain.BatterySoCUnknown,
		},
		logger: ActorLogger(domain.ACTOR_ID_CONTROLLER, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(CtrlStartingState{actor: act})
	return act
}

func defaultControlState(cfg *config.Config) domain.ControlState {
	if cfg.Charging.DefaultState != "" {
		if s, err := domain.ParseControlState(cfg.Charging.DefaultState); err == nil {
			return s
		}
	}
	return domain.ControlStateDormant
}

func (state *ControllerActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type CtrlStartingState struct {
	ActorState
	actor *ControllerActor
}

func (state CtrlStartingState) Name() string {
	return "starting"
}

func (state CtrlStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		act := state.actor
		act.logger.Debug("controller@starting started")

		// recover persisted state
		if act.store != nil {
			persisted, err := act.store.Load()
			if err != nil {
				act.logger.Warn("controller: could not load state file", zap.Error(err))
			}
			act.persisted = persisted
			for _, e := range persisted.History {
				act.history.Append(e)
			}
			if persisted.LastKnownSoC >= 0 {
				act.chargerState.BatteryPercent = persisted.LastKnownSoC
				act.logger.Info("controller: recovered last known SoC",
					zap.Int("soc", persisted.LastKnownSoC))
			}
			if persisted.LastPowerState != nil {
				act.energySnapshot = *persisted.LastPowerState
				act.energyBoundary = service.NextHalfHourBoundary(persisted.LastPowerState.UnixTime)
			}
		} else {
			act.persisted = service.DefaultPersistentState()
		}

		// events from the monitor, charger and OCPP actors arrive
		// through the event stream and are re-entered as messages
		act.eventStreamSub = act.eventStream.Subscribe(func(value any) {
			switch value.(type) {
			case domain.PowerSampleEvent, domain.AuxPowerSampleEvent, domain.ChargerStateEvent, domain.RemoteProtocolResultEvent:
				ctx.Send(ctx.Self(), value)
			}
		})

		act.logger.Info("controller: starting", zap.String("state", act.controlState.String()))
		act.Become(CtrlRunningState{actor: act})
		act.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.actor.unsubscribe()
	default:
		state.actor.logger.Debug("controller@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Running state

type CtrlRunningState struct {
	ActorState
	actor *ControllerActor
}

func (state CtrlRunningState) Name() string {
	return "running"
}

func (state CtrlRunningState) Receive(ctx actor.Context) {
	act := state.actor
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		act.logger.Debug("controller@running ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CONTROLLER,
			Healthy: true,
			State:   act.controlState.String(),
		})
	case domain.PowerSampleEvent:
		act.controlCycle(ctx, msg.Sample)
	case domain.AuxPowerSampleEvent:
		act.lastAux = msg.Sample
	case domain.ChargerStateEvent:
		act.onChargerState(ctx, msg.State)
	case domain.RemoteProtocolResultEvent:
		act.onRemoteProtocolResult(ctx, msg)
	case domain.ChargerSetCurrentResponse:
		if msg.HasResponseError() {
			act.logger.Warn("controller: setpoint rejected", zap.Error(msg.GetResponseError()))
		} else if !msg.Applied && msg.GuardRemaining > 0 {
			act.logger.Debug("controller: setpoint held",
				zap.Int("amps", msg.Amps),
				zap.Duration("next_change_in", msg.GuardRemaining))
		}
	case domain.RemoteProtocolSetEnabledResponse:
		if msg.HasResponseError() {
			act.logger.Warn("controller: remote protocol toggle pending", zap.Error(msg.GetResponseError()))
		}
	case domain.ControlSetStateRequest:
		act.logger.Info("controller@running ControlSetStateRequest", zap.String("state", msg.State.String()))
		changed := act.setControlState(msg.State)
		ForRequest(msg).Respond(ctx, domain.ControlSetStateResponse{
			State:   act.controlState,
			Changed: changed,
		})
	case domain.ControlSetCurrentRangeRequest:
		if msg.Charge != nil {
			act.policy.SetChargeRange(*msg.Charge)
		}
		if msg.Discharge != nil {
			act.policy.SetDischargeRange(*msg.Discharge)
		}
		act.logger.Info("controller@running ControlSetCurrentRangeRequest",
			zap.Any("charge", act.policy.ChargeRange()),
			zap.Any("discharge", act.policy.DischargeRange()))
		ForRequest(msg).Respond(ctx, domain.ControlSetCurrentRangeResponse{
			Charge:    act.policy.ChargeRange(),
			Discharge: act.policy.DischargeRange(),
		})
	case domain.ControlSetDemandLevelsRequest:
		act.policy.SetDemandLevels(msg.Levels)
		ForRequest(msg).Respond(ctx, domain.ControlSetDemandLevelsResponse{
			Count: len(msg.Levels),
		})
	case domain.ControlSetRemoteProtocolRequest:
		act.logger.Info("controller@running ControlSetRemoteProtocolRequest", zap.Bool("enable", msg.Enable))
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(act.ocppActor, domain.RemoteProtocolSetEnabledRequest{
			Enable: msg.Enable,
		}, 30*time.Second), func(err error) any {
			return domain.RemoteProtocolSetEnabledResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		ForRequest(msg).Respond(ctx, domain.ControlSetRemoteProtocolResponse{
			Requested: true,
		})
	case domain.ControlStatusRequest:
		ForRequest(msg).Respond(ctx, domain.ControlStatusResponse{
			State:       act.controlState,
			DesiredAmps: act.desiredAmps,
			Charger:     act.chargerState,
			LastSample:  act.lastSample,
		})
	case domain.ControlHistoryRequest:
		ForRequest(msg).Respond(ctx, domain.ControlHistoryResponse{
			Entries: act.history.Snapshot(),
		})
	case *actor.Stopping:
		act.unsubscribe()
		act.persistState(true)
	case *actor.Restarting:
		act.unsubscribe()
	default:
		act.logger.Debug("controller@running default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// controlCycle runs once per power sample.
func (act *ControllerActor) controlCycle(ctx actor.Context, sample domain.PowerSample) {
	act.lastSample = &sample

	act.history.Append(domain.HistoryEntry{
		Timestamp:      sample.UnixTime,
		GridWatts:      sample.GridWatts,
		EvseWatts:      sample.EvseWatts,
		HomeWatts:      sample.HomeWatts(),
		SolarWatts:     act.lastAux.SolarWatts,
		HeatPumpWatts:  act.lastAux.HeatPumpWatts,
		VoltageVolts:   sample.VoltageVolts,
		BatteryPercent: act.chargerState.BatteryPercent,
	})

	act.accountEnergy(sample)
	act.persistState(false)

	desired := act.policy.Evaluate(act.controlState, sample, act.desiredAmps, act.chargerState)

	act.logger.Debug("controller cycle",
		zap.String("state", act.controlState.String()),
		zap.Float64("home_w", sample.HomeWatts()),
		zap.Int("desired_a", desired),
		zap.Int("charger_a", act.chargerState.CurrentAmps),
		zap.Int("soc", act.chargerState.BatteryPercent))

	act.desiredAmps = desired

	if act.controlState.Uncontrolled() || act.chargerState.CommsFailure {
		return
	}
	if desired == act.chargerState.CurrentAmps && !act.chargerState.NeedsNudge(desired) {
		return
	}
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(act.chargerActor, domain.ChargerSetCurrentRequest{
		Amps: desired,
	}, 5*time.Second), func(err error) any {
		return domain.ChargerSetCurrentResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
			Amps: desired,
		}
	})
}

// accountEnergy logs the grid/EVSE energy moved each half hour, aligned
// to wall-clock half-hour boundaries.
func (act *ControllerActor) accountEnergy(sample domain.PowerSample) {
	if act.energyBoundary == 0 {
		act.energyBoundary = service.NextHalfHourBoundary(sample.UnixTime)
		act.energySnapshot = service.SnapshotOf(sample)
		return
	}
	if sample.UnixTime < act.energyBoundary {
		return
	}
	report := service.EnergyDelta(act.energySnapshot, sample)
	act.logger.Info("energy half-hour",
		zap.Float64("grid_in_wh", report.GridImportedWh),
		zap.Float64("grid_out_wh", report.GridExportedWh),
		zap.Float64("evse_in_wh", report.EvseImportedWh),
		zap.Float64("evse_out_wh", report.EvseExportedWh))
	act.energySnapshot = service.SnapshotOf(sample)
	act.energyBoundary = service.NextHalfHourBoundary(sample.UnixTime)
}

func (act *ControllerActor) onChargerState(ctx actor.Context, chState domain.ChargerState) {
	prev := act.chargerState
	act.chargerState = chState
	if chState.BatteryPercent >= 0 {
		act.persisted.LastKnownSoC = chState.BatteryPercent
		act.persisted.LastSoCTimestamp = chState.LastUpdate.Unix()
	}
	// a pause hold releases itself once the car is gone
	if act.controlState == domain.ControlStatePauseUntilDisconnect &&
		chState.Status == quasar_modbus.StatusDisconnected &&
		prev.Status != quasar_modbus.StatusDisconnected {
		act.logger.Info("controller: car disconnected, leaving pause hold")
		act.setControlState(domain.ControlStateDormant)
	}
}

func (act *ControllerActor) onRemoteProtocolResult(ctx actor.Context, msg domain.RemoteProtocolResultEvent) {
	if !msg.Success {
		act.logger.Error("controller: remote protocol command failed",
			zap.String("command", msg.Command),
			zap.String("error", msg.Error))
		return
	}
	enabled := msg.State != nil && msg.State.Enabled
	act.logger.Info("controller: remote protocol state",
		zap.String("command", msg.Command),
		zap.Bool("enabled", enabled))
	// hand the station over (or take it back)
	ctx.Send(act.chargerActor, domain.ChargerSetRemoteProtocolModeRequest{Enable: enabled})
	if enabled {
		act.setControlState(domain.ControlStateRemoteProtocol)
	} else if act.controlState == domain.ControlStateRemoteProtocol {
		act.setControlState(domain.ControlStateDormant)
	}
}

func (act *ControllerActor) setControlState(next domain.ControlState) bool {
	if next == act.controlState {
		return false
	}
	act.logger.Info("controller: control state change",
		zap.String("from", act.controlState.String()),
		zap.String("to", next.String()))
	act.controlState = next
	act.desiredAmps = 0
	for _, ev := range events.ControlStateUpdateEvents(next) {
		act.eventStream.Publish(ev)
	}
	return true
}

func (act *ControllerActor) persistState(force bool) {
	if act.store == nil {
		return
	}
	act.persisted.History = act.history.Snapshot()
	snap := act.energySnapshot
	if snap.UnixTime > 0 {
		act.persisted.LastPowerState = &snap
	}
	if _, err := act.store.Save(act.persisted, force); err != nil {
		act.logger.Warn("controller: could not persist state", zap.Error(err))
	}
}

func (act *ControllerActor) unsubscribe() {
	if act.eventStreamSub != nil {
		act.eventStream.Unsubscribe(act.eventStreamSub)
		act.eventStreamSub = nil
	}
}
