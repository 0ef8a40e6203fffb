package port

import (
	"context"

	"github.com/robynrox/evse-controller/internal/core/domain"
)

// PowerMonitor reads one sample from an energy monitor. prev is the
// previous accepted sample, used to integrate the energy accumulators;
// nil on the first read.
type PowerMonitor interface {
	Sample(ctx context.Context, prev *domain.PowerSample) (*domain.PowerSample, error)
}

// AuxPowerMonitor reads the optional second monitor that watches the
// solar and heat pump circuits.
type AuxPowerMonitor interface {
	SampleAux(ctx context.Context) (*domain.AuxPowerSample, error)
}

// CloudAPI is the subset of the vendor cloud API the controller needs:
// charger restart for comms-failure recovery and the OCPP
// configuration toggle.
type CloudAPI interface {
	RestartCharger(ctx context.Context) error
	GetRemoteProtocolState(ctx context.Context) (*domain.RemoteProtocolState, error)
	SetRemoteProtocolEnabled(ctx context.Context, enable bool) (*domain.RemoteProtocolState, error)
}

// ChargeControlPolicy turns a power sample into a desired current.
type ChargeControlPolicy interface {
	Evaluate(state domain.ControlState, sample domain.PowerSample, lastTarget int, charger domain.ChargerState) int
	SetChargeRange(r domain.CurrentRange)
	SetDischargeRange(r domain.CurrentRange)
	SetDemandLevels(levels []domain.HomeDemandLevel)
	ChargeRange() domain.CurrentRange
	DischargeRange() domain.CurrentRange
}
