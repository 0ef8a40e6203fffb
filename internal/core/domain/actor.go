package domain

import (
	"time"

	"github.com/asynkron/protoactor-go/actor"
)

const (
	ACTOR_ID_MASTER      = "master"
	ACTOR_ID_CHARGER     = "charger"
	ACTOR_ID_MONITOR     = "monitor"
	ACTOR_ID_AUX_MONITOR = "aux_monitor"
	ACTOR_ID_OCPP        = "ocpp"
	ACTOR_ID_CONTROLLER  = "controller"
	ACTOR_ID_TELEMETRY   = "telemetry"
)

type ActorRef actor.PID

type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

type ActorRequest interface {
	ReplyTo() *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

// Charger messages

type ChargerGetStateRequest struct {
	ActorRequestMixIn
}

type ChargerGetStateResponse struct {
	ActorResponseMixIn
	State ChargerState
}

type ChargerSetCurrentRequest struct {
	ActorRequestMixIn
	Amps int
}

type ChargerSetCurrentResponse struct {
	ActorResponseMixIn
	Amps int
	// Applied is false when the command was dropped (guard window,
	// remote protocol mode) or was a no-op.
	Applied        bool
	GuardRemaining time.Duration
}

type ChargerSetRemoteProtocolModeRequest struct {
	ActorRequestMixIn
	Enable bool
}

type ChargerSetRemoteProtocolModeResponse struct {
	ActorResponseMixIn
	Enabled bool
}

// Health check

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
