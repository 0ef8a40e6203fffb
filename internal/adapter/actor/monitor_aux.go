package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/robynrox/evse-controller/internal/config"
	"github.com/robynrox/evse-controller/internal/core/domain"
	"github.com/robynrox/evse-controller/internal/core/events"
	"github.com/robynrox/evse-controller/internal/core/port"
	"github.com/robynrox/evse-controller/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// AuxMonitorActor samples the optional second energy monitor. Same tick
// discipline as MonitorActor, but the readings only feed history and
// telemetry, so errors are logged and the tick just keeps going.
type AuxMonitorActor struct {
	behavior  actor.Behavior
	stash     *actorutil.Stash
	scheduler *scheduler.TimerScheduler

	monitor     port.AuxPowerMonitor
	config      *config.Config
	eventStream *eventstream.EventStream

	errorCount int

	logger *zap.Logger
}

type auxMonitorTick struct {
}

type auxSampleResult struct {
	sample *domain.AuxPowerSample
	err    error
}

func NewAuxMonitorActor(config *config.Config, monitor port.AuxPowerMonitor, eventStream *eventstream.EventStream, logger *zap.Logger) *AuxMonitorActor {
	act := &AuxMonitorActor{
		config:      config,
		monitor:     monitor,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_AUX_MONITOR, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *AuxMonitorActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *AuxMonitorActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("aux_monitor@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.scheduler.RequestOnce(state.tickInterval(), ctx.Self(), auxMonitorTick{})
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("aux_monitor@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *AuxMonitorActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("aux_monitor@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_AUX_MONITOR,
			Healthy: true,
			State:   "idle",
		})
	case auxMonitorTick:
		state.logger.Debug("aux_monitor@default tick")
		monitor := state.monitor
		actorutil.NewBackgroundTaskNoError(ctx, func() *auxSampleResult {
			sample, err := monitor.SampleAux(context.Background())
			return &auxSampleResult{sample: sample, err: err}
		}).WithTimeout(monitorCallTimeout).Recover(func(err error) auxSampleResult {
			return auxSampleResult{err: err}
		}).PipeTo(ctx.Self())
		state.scheduler.RequestOnce(state.tickInterval(), ctx.Self(), auxMonitorTick{})
		state.behavior.BecomeStacked(state.WaitingSample)
	default:
		state.logger.Debug("aux_monitor@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *AuxMonitorActor) WaitingSample(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case auxSampleResult:
		if msg.err != nil {
			state.errorCount++
			state.logger.Warn("aux_monitor@waiting sample failed",
				zap.Error(msg.err),
				zap.Int("consecutive", state.errorCount))
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
			return
		}
		if state.errorCount > 0 {
			state.logger.Info("aux_monitor@waiting sampling recovered", zap.Int("missed", state.errorCount))
			state.errorCount = 0
		}
		state.eventStream.Publish(domain.AuxPowerSampleEvent{Sample: *msg.sample})
		for _, ev := range events.AuxPowerSampleToUpdateEvents(*msg.sample) {
			state.eventStream.Publish(ev)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("aux_monitor@waiting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *AuxMonitorActor) tickInterval() time.Duration {
	if state.config.Monitor.PollIntervalMillis > 0 {
		return time.Duration(state.config.Monitor.PollIntervalMillis) * time.Millisecond
	}
	return time.Second
}
