package domain

import "fmt"

// RemoteProtocolState is the charger's OCPP configuration as reported
// by the vendor cloud API.
type RemoteProtocolState struct {
	Enabled             bool
	Address             string
	ChargePointIdentity string
}

// RemoteProtocolRequest

type RemoteProtocolRequest interface {
	ActorRequest
	RemoteProtocolCommand() string
}

type RemoteProtocolRequestMixIn struct {
	ActorRequestMixIn
}

func (r RemoteProtocolRequestMixIn) RemoteProtocolCommand() string {
	return fmt.Sprintf("%T", r)
}

// RemoteProtocol commands

type RemoteProtocolGetStateRequest struct {
	RemoteProtocolRequestMixIn
}

type RemoteProtocolGetStateResponse struct {
	ActorResponseMixIn
	State *RemoteProtocolState
}

type RemoteProtocolSetEnabledRequest struct {
	RemoteProtocolRequestMixIn
	Enable bool
}

type RemoteProtocolSetEnabledResponse struct {
	ActorResponseMixIn
	State *RemoteProtocolState
}

// ensure interface compliance
var _ RemoteProtocolRequest = (*RemoteProtocolGetStateRequest)(nil)
var _ RemoteProtocolRequest = (*RemoteProtocolSetEnabledRequest)(nil)
