package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/robynrox/evse-controller/internal/core/domain"
	"github.com/robynrox/evse-controller/internal/core/events"
	"github.com/robynrox/evse-controller/internal/core/port"
	"github.com/robynrox/evse-controller/internal/core/service"
	"github.com/robynrox/evse-controller/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	cloudCallTimeout = 20 * time.Second

	REMOTE_PROTOCOL_COMMAND_GET_STATE = "get_state"
	REMOTE_PROTOCOL_COMMAND_ENABLE    = "enable"
	REMOTE_PROTOCOL_COMMAND_DISABLE   = "disable"
)

// OCPPActor serializes all vendor cloud traffic. The cloud rate limits
// hard, so failed toggles are retried with exponential backoff instead
// of hammering the API, and configuration reads go through the client's
// cache.
type OCPPActor struct {
	behavior  actor.Behavior
	stash     *actorutil.Stash
	scheduler *scheduler.TimerScheduler

	cloud       port.CloudAPI
	eventStream *eventstream.EventStream
	backoff     service.RetryBackoff
	retries     *service.RetryQueue
	cached      *domain.RemoteProtocolState

	now func() time.Time

	logger *zap.Logger
}

type retryWake struct {
}

type cloudCallResult struct {
	job     *service.RetryJob
	state   *domain.RemoteProtocolState
	err     error
	replyTo *actor.PID
}

// credentialed is implemented by cloud clients that can tell whether
// they are configured at all.
type credentialed interface {
	HasCredentials() bool
}

func NewOCPPActor(cloud port.CloudAPI, eventStream *eventstream.EventStream, backoff service.RetryBackoff, logger *zap.Logger) *OCPPActor {
	act := &OCPPActor{
		cloud:       cloud,
		eventStream: eventStream,
		backoff:     backoff,
		retries:     service.NewRetryQueue(),
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		now:         time.Now,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_OCPP, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *OCPPActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

// enabled reports whether the cloud can be called at all. Without
// credentials the remote protocol stays permanently off and no network
// traffic happens.
func (state *OCPPActor) enabled() bool {
	if state.cloud == nil {
		return false
	}
	if c, ok := state.cloud.(credentialed); ok {
		return c.HasCredentials()
	}
	return true
}

func (state *OCPPActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("ocpp@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		if !state.enabled() {
			state.logger.Info("ocpp: no cloud credentials, remote protocol disabled")
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("ocpp@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *OCPPActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("ocpp@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_OCPP,
			Healthy: true,
			State:   "idle",
		})
	case domain.RemoteProtocolGetStateRequest:
		state.logger.Debug("ocpp@default: RemoteProtocolGetStateRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		if !state.enabled() {
			ctx.Send(sender, domain.RemoteProtocolGetStateResponse{
				State: &domain.RemoteProtocolState{},
			})
			return
		}
		job := &service.RetryJob{
			Command:     REMOTE_PROTOCOL_COMMAND_GET_STATE,
			SubmittedAt: state.now(),
		}
		state.dispatchJob(ctx, job, sender)
	case domain.RemoteProtocolSetEnabledRequest:
		state.logger.Info("ocpp@default: RemoteProtocolSetEnabledRequest", zap.Bool("enable", msg.Enable))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		if !state.enabled() {
			ctx.Send(sender, domain.RemoteProtocolSetEnabledResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: fmt.Errorf("remote protocol disabled: no cloud credentials"),
				},
			})
			return
		}
		job := &service.RetryJob{
			Command:     remoteProtocolCommand(msg.Enable),
			Enable:      msg.Enable,
			SubmittedAt: state.now(),
		}
		state.dispatchJob(ctx, job, sender)
	case retryWake:
		state.logger.Debug("ocpp@default retryWake")
		if job := state.retries.PopDue(state.now()); job != nil {
			state.dispatchJob(ctx, job, nil)
		}
	case *actor.ReceiveTimeout:
	default:
		state.logger.Debug("ocpp@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *OCPPActor) WaitingCloud(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case cloudCallResult:
		state.behavior.UnbecomeStacked()
		state.handleCallResult(ctx, msg)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("ocpp@waiting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// dispatchJob runs one attempt of a cloud job in the background.
func (state *OCPPActor) dispatchJob(ctx actor.Context, job *service.RetryJob, sender *actor.PID) {
	cloud := state.cloud
	actorutil.NewBackgroundTaskNoError(ctx, func() *cloudCallResult {
		var st *domain.RemoteProtocolState
		var err error
		if job.Command == REMOTE_PROTOCOL_COMMAND_GET_STATE {
			st, err = cloud.GetRemoteProtocolState(context.Background())
		} else {
			st, err = cloud.SetRemoteProtocolEnabled(context.Background(), job.Enable)
		}
		return &cloudCallResult{job: job, state: st, err: err, replyTo: sender}
	}).WithTimeout(cloudCallTimeout).Recover(func(err error) cloudCallResult {
		return cloudCallResult{job: job, err: err, replyTo: sender}
	}).PipeTo(ctx.Self())
	state.behavior.BecomeStacked(state.WaitingCloud)
}

func (state *OCPPActor) handleCallResult(ctx actor.Context, msg cloudCallResult) {
	job := msg.job
	job.Attempts++
	if msg.err == nil {
		state.cached = msg.state
		state.logger.Info("ocpp: command applied",
			zap.String("command", job.Command),
			zap.Int("attempts", job.Attempts))
		state.respond(ctx, job, msg.replyTo, msg.state, nil)
		state.publishResult(job, true, msg.state, nil)
		return
	}

	if state.backoff.Exhausted(job.Attempts) {
		// exhaustion leaves the cached state untouched
		state.logger.Error("ocpp: command abandoned, retries exhausted",
			zap.String("command", job.Command),
			zap.Int("attempts", job.Attempts),
			zap.Error(msg.err))
		state.respond(ctx, job, msg.replyTo, state.cached, msg.err)
		state.publishResult(job, false, state.cached, msg.err)
		return
	}

	delay := state.backoff.Delay(job.Attempts)
	if service.IsRateLimited(msg.err) {
		state.logger.Warn("ocpp: cloud rate limited, backing off",
			zap.String("command", job.Command),
			zap.Int("attempt", job.Attempts),
			zap.Duration("delay", delay))
	} else {
		state.logger.Warn("ocpp: command failed, will retry",
			zap.String("command", job.Command),
			zap.Int("attempt", job.Attempts),
			zap.Duration("delay", delay),
			zap.Error(msg.err))
	}
	state.retries.Schedule(job, state.now().Add(delay))
	state.scheduler.RequestOnce(delay, ctx.Self(), retryWake{})
	// first attempt failed, the caller learns the final outcome from
	// the event stream
	state.respond(ctx, job, msg.replyTo, state.cached, msg.err)
}

// respond answers the original requester with the response type of the
// job's command.
func (state *OCPPActor) respond(ctx actor.Context, job *service.RetryJob, replyTo *actor.PID,
	rpState *domain.RemoteProtocolState, err error) {
	if replyTo == nil {
		return
	}
	mixin := domain.ActorResponseMixIn{ResponseError: err}
	if job.Command == REMOTE_PROTOCOL_COMMAND_GET_STATE {
		ctx.Send(replyTo, domain.RemoteProtocolGetStateResponse{
			ActorResponseMixIn: mixin,
			State:              rpState,
		})
		return
	}
	ctx.Send(replyTo, domain.RemoteProtocolSetEnabledResponse{
		ActorResponseMixIn: mixin,
		State:              rpState,
	})
}

func (state *OCPPActor) publishResult(job *service.RetryJob, success bool, rpState *domain.RemoteProtocolState, err error) {
	ev := domain.RemoteProtocolResultEvent{
		Command: job.Command,
		Success: success,
		State:   rpState,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	state.eventStream.Publish(ev)
	if success && rpState != nil {
		for _, upd := range events.RemoteProtocolUpdateEvents(rpState.Enabled) {
			state.eventStream.Publish(upd)
		}
	}
}

func remoteProtocolCommand(enable bool) string {
	if enable {
		return REMOTE_PROTOCOL_COMMAND_ENABLE
	}
	return REMOTE_PROTOCOL_COMMAND_DISABLE
}
