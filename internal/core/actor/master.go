package actor

import (
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/robynrox/evse-controller/internal/adapter/actor"
	"github.com/robynrox/evse-controller/internal/config"
	"github.com/robynrox/evse-controller/internal/core/domain"
	"github.com/robynrox/evse-controller/internal/core/port"
	"github.com/robynrox/evse-controller/internal/core/service"
	. "github.com/robynrox/evse-controller/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type ChargerActorProvider func(*eventstream.EventStream) *adactor.ChargerActor

type MonitorActorProvider func(*eventstream.EventStream) *adactor.MonitorActor

type AuxMonitorActorProvider func(*eventstream.EventStream) *adactor.AuxMonitorActor

type OCPPActorProvider func(*eventstream.EventStream) *adactor.OCPPActor

type TelemetryActorProvider func(*eventstream.EventStream) *adactor.TelemetryActor

// MasterActor spawns and supervises the actor tree and routes commands
// from the HTTP API and the telemetry broker to the right child.
type MasterActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	chargerActor       *actor.PID
	monitorActor       *actor.PID
	auxMonitorActor    *actor.PID
	ocppActor          *actor.PID
	controllerActor    *actor.PID
	telemetryActor     *actor.PID

	chargerActorProvider    ChargerActorProvider
	monitorActorProvider    MonitorActorProvider
	auxMonitorActorProvider AuxMonitorActorProvider
	ocppActorProvider       OCPPActorProvider
	telemetryActorProvider  TelemetryActorProvider
	policy                  port.ChargeControlPolicy
	store                   *service.StateStore

	logger *zap.Logger
}

type healthCheckResult struct {
	chargerActorHealthy    bool
	monitorActorHealthy    bool
	controllerActorHealthy bool
	controllerState        string
	checksReceived         int
	respondTo              *actor.PID
}

func NewMasterActor(config config.Config, chargerActorProvider ChargerActorProvider, monitorActorProvider MonitorActorProvider,
	auxMonitorActorProvider AuxMonitorActorProvider, ocppActorProvider OCPPActorProvider,
	telemetryActorProvider TelemetryActorProvider,
	policy port.ChargeControlPolicy, store *service.StateStore, logger *zap.Logger) *MasterActor {
	act := &MasterActor{
		config:                  config,
		behavior:                actor.NewBehavior(),
		stash:                   &Stash{},
		logger:                  ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:             &eventstream.EventStream{},
		chargerActorProvider:    chargerActorProvider,
		monitorActorProvider:    monitorActorProvider,
		auxMonitorActorProvider: auxMonitorActorProvider,
		ocppActorProvider:       ocppActorProvider,
		telemetryActorProvider:  telemetryActorProvider,
		policy:                  policy,
		store:                   store,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()

		// start charger actor
		chargerActorPID, err := state.startChargerActor(ctx)
		if err != nil {
			panic(err)
		}
		state.chargerActor = chargerActorPID

		// start OCPP actor
		ocppActorPID, err := state.startOCPPActor(ctx)
		if err != nil {
			panic(err)
		}
		state.ocppActor = ocppActorPID

		// start monitor actor
		monitorActorPID, err := state.startMonitorActor(ctx)
		if err != nil {
			panic(err)
		}
		state.monitorActor = monitorActorPID

		// start the second monitor only when one is configured
		if state.config.Monitor.AuxShellyHost != "" && state.auxMonitorActorProvider != nil {
			auxMonitorActorPID, err := state.startAuxMonitorActor(ctx)
			if err != nil {
				panic(err)
			}
			state.auxMonitorActor = auxMonitorActorPID
		}

		// start controller actor
		controllerActorPID, err := state.startControllerActor(ctx)
		if err != nil {
			panic(err)
		}
		state.controllerActor = controllerActorPID

		// start telemetry actor only when a broker is configured
		if state.config.MQTT.Host != "" {
			telemetryActorPID, err := state.startTelemetryActor(ctx)
			if err != nil {
				panic(err)
			}
			state.telemetryActor = telemetryActorPID
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		// Charger Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.chargerActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_CHARGER,
				Healthy: false,
			}
		})
		// Monitor Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.monitorActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MONITOR,
				Healthy: false,
			}
		})
		// Controller Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.controllerActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_CONTROLLER,
				Healthy: false,
			}
		})

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case adactor.ParsedCommand:
		// redirect parsed broker commands to the controller
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			cmd, err := ParsedMQTTCommandToCommand(*msg.Command)
			if err != nil {
				state.logger.Warn("master@default: invalid command", zap.Error(err))
			} else if cmd != nil {
				ctx.Send(state.controllerActor, cmd)
			}
		}
	case domain.ControlRequest:
		// requests from the HTTP API, keeping the original sender
		ctx.Forward(state.controllerActor)
	case domain.RemoteProtocolRequest:
		ctx.Forward(state.ocppActor)
	case domain.ChargerGetStateRequest:
		ctx.Forward(state.chargerActor)
	case *actor.Terminated:
		// if the charger actor fails on boot, terminate
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_CHARGER) {
			state.logger.Error("master@default charger error")
			panic(errors.New("charger terminated"))
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			if msg.Id == domain.ACTOR_ID_CHARGER {
				state.currentHealthCheck.chargerActorHealthy = true
			} else if msg.Id == domain.ACTOR_ID_MONITOR {
				state.currentHealthCheck.monitorActorHealthy = true
			} else if msg.Id == domain.ACTOR_ID_CONTROLLER {
				state.currentHealthCheck.controllerActorHealthy = true
				state.currentHealthCheck.controllerState = msg.State
			}
		}
		if state.currentHealthCheck.allReceived() {

			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) startChargerActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	chargerProps := actor.PropsFromProducer(func() actor.Actor {
		return state.chargerActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	chargerActorPID, err := ctx.SpawnNamed(chargerProps, domain.ACTOR_ID_CHARGER)
	if err != nil {
		return nil, err
	}

	return chargerActorPID, nil
}

func (state *MasterActor) startMonitorActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	monitorProps := actor.PropsFromProducer(func() actor.Actor {
		return state.monitorActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	monitorActorPID, err := ctx.SpawnNamed(monitorProps, domain.ACTOR_ID_MONITOR)
	if err != nil {
		return nil, err
	}

	return monitorActorPID, nil
}

func (state *MasterActor) startAuxMonitorActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	auxMonitorProps := actor.PropsFromProducer(func() actor.Actor {
		return state.auxMonitorActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	auxMonitorActorPID, err := ctx.SpawnNamed(auxMonitorProps, domain.ACTOR_ID_AUX_MONITOR)
	if err != nil {
		return nil, err
	}

	return auxMonitorActorPID, nil
}

func (state *MasterActor) startOCPPActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	ocppProps := actor.PropsFromProducer(func() actor.Actor {
		return state.ocppActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	ocppActorPID, err := ctx.SpawnNamed(ocppProps, domain.ACTOR_ID_OCPP)
	if err != nil {
		return nil, err
	}

	return ocppActorPID, nil
}

func (state *MasterActor) startControllerActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	controllerProps := actor.PropsFromProducer(func() actor.Actor {
		return NewControllerActor(&state.config, state.chargerActor, state.ocppActor, state.eventStream,
			state.policy, state.store, state.logger)
	}, actor.WithSupervisor(supervisor))
	controllerActorPID, err := ctx.SpawnNamed(controllerProps, domain.ACTOR_ID_CONTROLLER)
	if err != nil {
		return nil, err
	}

	return controllerActorPID, nil
}

func (state *MasterActor) startTelemetryActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	telemetryProps := actor.PropsFromProducer(func() actor.Actor {
		return state.telemetryActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	telemetryActorPID, err := ctx.SpawnNamed(telemetryProps, domain.ACTOR_ID_TELEMETRY)
	if err != nil {
		return nil, err
	}

	return telemetryActorPID, nil
}

func (state *healthCheckResult) reset() {
	state.chargerActorHealthy = false
	state.monitorActorHealthy = false
	state.controllerActorHealthy = false
	state.controllerState = ""
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 3
}

func (state *healthCheckResult) allHealthy() bool {
	return state.chargerActorHealthy && state.monitorActorHealthy && state.controllerActorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
		State:   state.controllerState,
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
