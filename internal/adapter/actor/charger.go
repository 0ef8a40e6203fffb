package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/robynrox/evse-controller/internal/config"
	"github.com/robynrox/evse-controller/internal/core/domain"
	"github.com/robynrox/evse-controller/internal/core/events"
	"github.com/robynrox/evse-controller/internal/core/port"
	"github.com/robynrox/evse-controller/internal/core/service"
	"github.com/robynrox/evse-controller/internal/util/actorutil"
	"github.com/robynrox/evse-controller/pkg/quasar_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	// consecutive poll failures before the station is declared lost
	CommsFailureThreshold = 10

	// minimum distance between cloud-triggered station restarts
	RestartCooldown = 420 * time.Second

	modbusCallTimeout = 2 * time.Second
)

// ChargerActor owns the Modbus link to the station. All register
// traffic goes through this actor, so the guard window between current
// changes is enforced in one place.
type ChargerActor struct {
	behavior  actor.Behavior
	stash     *actorutil.Stash
	scheduler *scheduler.TimerScheduler

	station     quasar_modbus.StationModbusReader
	cloud       port.CloudAPI
	config      *config.Config
	eventStream *eventstream.EventStream
	guard       *service.GuardTimer

	state              domain.ChargerState
	remoteProtocolMode bool
	// coalesced setpoint dropped during a guard window, applied on the
	// first poll after the window expires
	pendingAmps *int
	inflight    *setCurrentInflight
	lastRestart time.Time

	logger *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

type chargerPollTick struct {
}

type pollResult struct {
	snapshot *quasar_modbus.StationSnapshot
	err      error
}

type restartResult struct {
	err error
}

type setCurrentInflight struct {
	prevAmps int
	nextAmps int
}

func NewChargerActor(config *config.Config, station quasar_modbus.StationModbusReader, cloud port.CloudAPI,
	eventStream *eventstream.EventStream, guard *service.GuardTimer, logger *zap.Logger) *ChargerActor {
	if guard == nil {
		guard = service.NewGuardTimer()
		guard.TimeScale = config.Wallbox.TimeScale
	}
	act := &ChargerActor{
		config:      config,
		station:     station,
		cloud:       cloud,
		eventStream: eventStream,
		guard:       guard,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_CHARGER, logger),
		state: domain.ChargerState{
			Status:         quasar_modbus.StatusUnknown,
			BatteryPercent: domain.BatterySoCUnknown,
		},
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *ChargerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *ChargerActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("charger@starting started")
		if err := state.station.Open(); err != nil {
			panic(err)
		}
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.scheduler.RequestOnce(state.pollInterval(), ctx.Self(), chargerPollTick{})
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.station.Close()
	default:
		state.logger.Debug("charger@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *ChargerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("charger@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CHARGER,
			Healthy: !state.state.CommsFailure,
			State:   state.state.EffectiveStatus().String(),
		})
	case chargerPollTick:
		state.logger.Debug("charger@default tick")
		if state.pendingAmps != nil && !state.guard.Active() && state.writable() {
			amps := *state.pendingAmps
			state.pendingAmps = nil
			state.dispatchSetCurrent(ctx, amps, nil)
			state.scheduler.RequestOnce(state.pollInterval(), ctx.Self(), chargerPollTick{})
			return
		}
		actorutil.NewBackgroundTaskNoError(ctx, func() *pollResult {
			snapshot, err := state.station.GetSnapshot()
			return &pollResult{snapshot: snapshot, err: err}
		}).WithTimeout(modbusCallTimeout).Recover(func(err error) pollResult {
			return pollResult{err: err}
		}).PipeTo(ctx.Self())
		state.scheduler.RequestOnce(state.pollInterval(), ctx.Self(), chargerPollTick{})
		state.behavior.BecomeStacked(state.WaitingModbus)
	case domain.ChargerGetStateRequest:
		state.logger.Debug("charger@default: ChargerGetStateRequest")
		actorutil.ForRequest(msg).Respond(ctx, domain.ChargerGetStateResponse{
			State: state.snapshotState(),
		})
	case domain.ChargerSetCurrentRequest:
		state.logger.Debug("charger@default: ChargerSetCurrentRequest", zap.Int("amps", msg.Amps))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		state.handleSetCurrent(ctx, msg.Amps, sender)
	case domain.ChargerSetRemoteProtocolModeRequest:
		state.logger.Info("charger@default: remote protocol mode", zap.Bool("enable", msg.Enable))
		state.remoteProtocolMode = msg.Enable
		state.state.RemoteProtocolActive = msg.Enable
		if msg.Enable {
			state.pendingAmps = nil
		}
		state.publishState()
		actorutil.ForRequest(msg).Respond(ctx, domain.ChargerSetRemoteProtocolModeResponse{
			Enabled: msg.Enable,
		})
	case restartResult:
		if msg.err != nil {
			state.logger.Error("charger@default: station restart failed", zap.Error(msg.err))
		} else {
			state.logger.Warn("charger@default: station restart requested")
		}
	case *actor.Stopping:
		state.station.Close()
	default:
		state.logger.Debug("charger@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ChargerActor) WaitingModbus(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case pollResult:
		state.handlePollResult(ctx, msg)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case backgroundTaskResult:
		state.logger.Debug("charger@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if resp, ok := msg.message.(domain.ChargerSetCurrentResponse); ok {
			state.finishSetCurrent(resp)
		}
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.station.Close()
	default:
		state.logger.Debug("charger@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// writable reports whether register writes are allowed right now.
func (state *ChargerActor) writable() bool {
	return !state.remoteProtocolMode && !state.state.CommsFailure
}

func (state *ChargerActor) handleSetCurrent(ctx actor.Context, amps int, sender *actor.PID) {
	if !state.writable() {
		state.respondNotApplied(ctx, amps, sender)
		return
	}
	if amps == state.state.CurrentAmps && !state.state.NeedsNudge(amps) {
		state.respondNotApplied(ctx, amps, sender)
		return
	}
	if state.guard.Active() {
		// hold the newest value, older pending setpoints are stale
		state.pendingAmps = &amps
		state.logger.Info("charger@default: setpoint held by guard window",
			zap.Int("amps", amps),
			zap.Duration("remaining", state.guard.Remaining()))
		state.respondNotApplied(ctx, amps, sender)
		return
	}
	state.dispatchSetCurrent(ctx, amps, sender)
}

func (state *ChargerActor) respondNotApplied(ctx actor.Context, amps int, sender *actor.PID) {
	if sender == nil {
		return
	}
	ctx.Send(sender, domain.ChargerSetCurrentResponse{
		Amps:           amps,
		Applied:        false,
		GuardRemaining: state.guard.Remaining(),
	})
}

func (state *ChargerActor) dispatchSetCurrent(ctx actor.Context, amps int, sender *actor.PID) {
	state.inflight = &setCurrentInflight{
		prevAmps: state.state.CurrentAmps,
		nextAmps: amps,
	}
	actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, func() (*domain.ChargerSetCurrentResponse, error) {
		err := state.station.SetCurrent(int16(amps))
		if err != nil {
			return nil, err
		}
		return &domain.ChargerSetCurrentResponse{
			Amps:    amps,
			Applied: true,
		}, nil
	}), mapTaskResult[domain.ChargerSetCurrentResponse](sender)).Recover(func(err error) backgroundTaskResult {
		return backgroundTaskResult{
			message: domain.ChargerSetCurrentResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
				Amps: amps,
			},
			replyTo: sender,
		}
	}).WithTimeout(modbusCallTimeout).PipeTo(ctx.Self())
	state.behavior.BecomeStacked(state.WaitingModbus)
}

func (state *ChargerActor) finishSetCurrent(resp domain.ChargerSetCurrentResponse) {
	inflight := state.inflight
	state.inflight = nil
	if resp.HasResponseError() {
		state.logger.Error("charger: current write failed", zap.Error(resp.GetResponseError()))
		state.state.ConsecutiveErrors++
		state.escalateErrors()
		return
	}
	if inflight != nil && resp.Applied {
		state.guard.Arm(inflight.prevAmps, inflight.nextAmps)
		state.state.CurrentAmps = inflight.nextAmps
		state.logger.Info("charger: current applied",
			zap.Int("amps", inflight.nextAmps),
			zap.Duration("guard", state.guard.Remaining()))
		state.publishState()
	}
}

func (state *ChargerActor) handlePollResult(ctx actor.Context, msg pollResult) {
	if msg.err != nil {
		state.state.ConsecutiveErrors++
		state.logger.Warn("charger@waiting poll failed",
			zap.Error(msg.err),
			zap.Int("consecutive", state.state.ConsecutiveErrors))
		newlyFailed := state.escalateErrors()
		if state.state.CommsFailure {
			// keep asking for a restart while the link stays down, the
			// cooldown inside paces the attempts
			state.tryRestartRecovery(ctx)
		}
		if newlyFailed {
			state.publishState()
		}
		return
	}
	wasFailed := state.state.CommsFailure
	state.state.ConsecutiveErrors = 0
	state.state.CommsFailure = false
	if wasFailed {
		state.logger.Info("charger@waiting station link recovered")
	}
	state.state.Status = msg.snapshot.Status
	state.state.CurrentAmps = int(msg.snapshot.CurrentAmps)
	if domain.ValidBatterySoC(int(msg.snapshot.BatterySoC)) {
		state.state.BatteryPercent = int(msg.snapshot.BatterySoC)
	}
	state.state.LastUpdate = state.guard.Now()
	state.publishState()
}

// escalateErrors flips to comms failure once enough polls failed in a
// row. Returns true when the failure state is newly entered.
func (state *ChargerActor) escalateErrors() bool {
	if state.remoteProtocolMode {
		return false
	}
	if state.state.ConsecutiveErrors < CommsFailureThreshold || state.state.CommsFailure {
		return false
	}
	state.state.CommsFailure = true
	state.logger.Error("charger: station unreachable, entering comms failure",
		zap.Int("consecutive", state.state.ConsecutiveErrors))
	return true
}

// tryRestartRecovery asks the vendor cloud to power-cycle the station.
// Rate limited by the restart cooldown; a station boot takes minutes.
func (state *ChargerActor) tryRestartRecovery(ctx actor.Context) {
	if state.cloud == nil {
		return
	}
	cooldown := RestartCooldown
	if state.config.Wallbox.TimeScale > 0 && state.config.Wallbox.TimeScale != 1.0 {
		cooldown = time.Duration(float64(cooldown) * state.config.Wallbox.TimeScale)
	}
	now := state.guard.Now()
	if !state.lastRestart.IsZero() && now.Sub(state.lastRestart) < cooldown {
		state.logger.Debug("charger: restart suppressed by cooldown")
		return
	}
	state.lastRestart = now
	cloud := state.cloud
	actorutil.NewBackgroundTaskNoError(ctx, func() *restartResult {
		return &restartResult{err: cloud.RestartCharger(context.Background())}
	}).WithTimeout(30 * time.Second).Recover(func(err error) restartResult {
		return restartResult{err: err}
	}).PipeTo(ctx.Self())
}

func (state *ChargerActor) snapshotState() domain.ChargerState {
	s := state.state
	s.GuardRemaining = state.guard.Remaining()
	return s
}

func (state *ChargerActor) publishState() {
	s := state.snapshotState()
	state.eventStream.Publish(domain.ChargerStateEvent{State: s})
	for _, ev := range events.ChargerStateToUpdateEvents(s) {
		state.eventStream.Publish(ev)
	}
}

func (state *ChargerActor) pollInterval() time.Duration {
	millis := state.config.Wallbox.PollIntervalMillis
	if millis == 0 {
		millis = 1000
	}
	return time.Duration(millis) * time.Millisecond
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
