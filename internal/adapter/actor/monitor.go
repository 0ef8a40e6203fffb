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

const (
	monitorCallTimeout = 2 * time.Second

	// one heartbeat log line per this many samples
	heartbeatEvery = 30
)

// MonitorActor samples the energy monitor once per second. Ticks are
// aligned to wall-clock second boundaries so sample timestamps land on
// whole seconds regardless of how long each fetch takes.
type MonitorActor struct {
	behavior  actor.Behavior
	stash     *actorutil.Stash
	scheduler *scheduler.TimerScheduler

	monitor     port.PowerMonitor
	config      *config.Config
	eventStream *eventstream.EventStream

	lastSample  *domain.PowerSample
	sampleCount uint64
	errorCount  int

	now func() time.Time

	logger *zap.Logger
}

type monitorTick struct {
}

type sampleResult struct {
	sample *domain.PowerSample
	err    error
}

func NewMonitorActor(config *config.Config, monitor port.PowerMonitor, eventStream *eventstream.EventStream, logger *zap.Logger) *MonitorActor {
	act := &MonitorActor{
		config:      config,
		monitor:     monitor,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		now:         time.Now,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MONITOR, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MonitorActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MonitorActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("monitor@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.scheduler.RequestOnce(state.nextTickDelay(), ctx.Self(), monitorTick{})
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("monitor@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MonitorActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("monitor@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MONITOR,
			Healthy: true,
			State:   "idle",
		})
	case monitorTick:
		state.logger.Debug("monitor@default tick")
		prev := state.lastSample
		monitor := state.monitor
		actorutil.NewBackgroundTaskNoError(ctx, func() *sampleResult {
			sample, err := monitor.Sample(context.Background(), prev)
			return &sampleResult{sample: sample, err: err}
		}).WithTimeout(monitorCallTimeout).Recover(func(err error) sampleResult {
			return sampleResult{err: err}
		}).PipeTo(ctx.Self())
		state.scheduler.RequestOnce(state.nextTickDelay(), ctx.Self(), monitorTick{})
		state.behavior.BecomeStacked(state.WaitingSample)
	default:
		state.logger.Debug("monitor@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MonitorActor) WaitingSample(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case sampleResult:
		if msg.err != nil {
			state.errorCount++
			state.logger.Warn("monitor@waiting sample failed",
				zap.Error(msg.err),
				zap.Int("consecutive", state.errorCount))
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
			return
		}
		if state.errorCount > 0 {
			state.logger.Info("monitor@waiting sampling recovered", zap.Int("missed", state.errorCount))
			state.errorCount = 0
		}
		state.lastSample = msg.sample
		state.sampleCount++
		state.eventStream.Publish(domain.PowerSampleEvent{Sample: *msg.sample})
		for _, ev := range events.PowerSampleToUpdateEvents(*msg.sample) {
			state.eventStream.Publish(ev)
		}
		if state.sampleCount%heartbeatEvery == 0 {
			state.logger.Info("monitor heartbeat",
				zap.Float64("grid_w", msg.sample.GridWatts),
				zap.Float64("evse_w", msg.sample.EvseWatts),
				zap.Float64("home_w", msg.sample.HomeWatts()),
				zap.Uint64("samples", state.sampleCount))
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("monitor@waiting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// nextTickDelay returns the time until the next whole second, clamped
// so a tick can never fire immediately after the previous one.
func (state *MonitorActor) nextTickDelay() time.Duration {
	if state.config.Monitor.PollIntervalMillis > 0 && state.config.Monitor.PollIntervalMillis != 1000 {
		return time.Duration(state.config.Monitor.PollIntervalMillis) * time.Millisecond
	}
	now := state.now()
	delay := now.Truncate(time.Second).Add(time.Second).Sub(now)
	if delay < 100*time.Millisecond {
		delay += time.Second
	}
	if delay > time.Second {
		delay = time.Second
	}
	return delay
}
