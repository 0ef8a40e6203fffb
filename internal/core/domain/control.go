package domain

import "fmt"

type ControlState int

const (
	ControlStateDormant ControlState = iota
	ControlStateCharge
	ControlStateDischarge
	ControlStateLoadFollowCharge
	ControlStateLoadFollowDischarge
	ControlStateLoadFollowBidirectional
	ControlStatePauseUntilDisconnect
	ControlStateFreerun
	ControlStateRemoteProtocol
)

func (s ControlState) String() string {
	switch s {
	case ControlStateDormant:
		return "dormant"
	case ControlStateCharge:
		return "charge"
	case ControlStateDischarge:
		return "discharge"
	case ControlStateLoadFollowCharge:
		return "load_follow_charge"
	case ControlStateLoadFollowDischarge:
		return "load_follow_discharge"
	case ControlStateLoadFollowBidirectional:
		return "load_follow_bidirectional"
	case ControlStatePauseUntilDisconnect:
		return "pause_until_disconnect"
	case ControlStateFreerun:
		return "freerun"
	case ControlStateRemoteProtocol:
		return "remote_protocol"
	default:
		return "unknown"
	}
}

func ParseControlState(value string) (ControlState, error) {
	for s := ControlStateDormant; s <= ControlStateRemoteProtocol; s++ {
		if s.String() == value {
			return s, nil
		}
	}
	return ControlStateDormant, fmt.Errorf("unknown control state %q", value)
}

// CanCharge reports whether the state allows positive current.
func (s ControlState) CanCharge() bool {
	switch s {
	case ControlStateCharge, ControlStateLoadFollowCharge, ControlStateLoadFollowBidirectional:
		return true
	}
	return false
}

// CanDischarge reports whether the state allows negative current.
func (s ControlState) CanDischarge() bool {
	switch s {
	case ControlStateDischarge, ControlStateLoadFollowDischarge, ControlStateLoadFollowBidirectional:
		return true
	}
	return false
}

// Uncontrolled reports whether the controller must not send commands
// in this state.
func (s ControlState) Uncontrolled() bool {
	return s == ControlStateFreerun || s == ControlStateRemoteProtocol
}

// CurrentRange bounds the commandable current magnitude in amps.
type CurrentRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Clamp maps a demand-table target to a commandable magnitude:
// below Min the target collapses to zero, above Max it saturates.
func (r CurrentRange) Clamp(amps int) int {
	if amps < r.Min {
		return 0
	}
	if amps > r.Max {
		return r.Max
	}
	return amps
}

// HomeDemandLevel maps a band of household demand to a target current.
// Levels are ordered ascending by MinWatts and tile the demand range.
type HomeDemandLevel struct {
	MinWatts   float64 `json:"min_watts"`
	MaxWatts   float64 `json:"max_watts"`
	TargetAmps int     `json:"target_amps"`
}

// DefaultHomeDemandLevels builds the stock demand table: a dead band
// below one charging amp's worth of power, one 240 W band per amp from
// 3 A to 31 A, and a saturated top band.
func DefaultHomeDemandLevels() []HomeDemandLevel {
	levels := []HomeDemandLevel{{MinWatts: 0, MaxWatts: 720, TargetAmps: 0}}
	for amps := 3; amps <= 31; amps++ {
		min := float64(amps * 240)
		levels = append(levels, HomeDemandLevel{MinWatts: min, MaxWatts: min + 240, TargetAmps: amps})
	}
	return append(levels, HomeDemandLevel{MinWatts: 7680, MaxWatts: 99999, TargetAmps: 32})
}

// ControlRequest

type ControlRequest interface {
	ActorRequest
	ControlCommand() string
}

type ControlRequestMixIn struct {
	ActorRequestMixIn
}

func (r ControlRequestMixIn) ControlCommand() string {
	return fmt.Sprintf("%T", r)
}

// ControlResponse

type ControlResponse interface {
	ActorResponse
	ControlResponse() string
}

type ControlResponseMixIn struct {
	ActorResponseMixIn
}

func (r ControlResponseMixIn) ControlResponse() string {
	return fmt.Sprintf("%T", r)
}

// Controller commands

type ControlSetStateRequest struct {
	ControlRequestMixIn
	State ControlState
}

type ControlSetStateResponse struct {
	ControlResponseMixIn
	State   ControlState
	Changed bool
}

type ControlSetCurrentRangeRequest struct {
	ControlRequestMixIn
	Charge    *CurrentRange
	Discharge *CurrentRange
}

type ControlSetCurrentRangeResponse struct {
	ControlResponseMixIn
	Charge    CurrentRange
	Discharge CurrentRange
}

type ControlSetDemandLevelsRequest struct {
	ControlRequestMixIn
	Levels []HomeDemandLevel
}

type ControlSetDemandLevelsResponse struct {
	ControlResponseMixIn
	Count int
}

type ControlSetRemoteProtocolRequest struct {
	ControlRequestMixIn
	Enable bool
}

type ControlSetRemoteProtocolResponse struct {
	ControlResponseMixIn
	Requested bool
}

type ControlStatusRequest struct {
	ControlRequestMixIn
}

type ControlStatusResponse struct {
	ControlResponseMixIn
	State       ControlState
	DesiredAmps int
	Charger     ChargerState
	LastSample  *PowerSample
}

type ControlHistoryRequest struct {
	ControlRequestMixIn
}

type ControlHistoryResponse struct {
	ControlResponseMixIn
	Entries []HistoryEntry
}

// ensure interface compliance
var _ ControlRequest = (*ControlSetStateRequest)(nil)
var _ ControlResponse = (*ControlStatusResponse)(nil)
