package service

import (
	"github.com/robynrox/evse-controller/internal/core/domain"
	"github.com/robynrox/evse-controller/internal/core/port"
	"github.com/robynrox/evse-controller/pkg/quasar_modbus"

	"go.uber.org/zap"
)

const (
	DefaultHysteresisWatts     = 50
	DefaultColdStartAmps       = 3
	DefaultMaxChargePercent    = 97
	DefaultMinDischargePercent = 5
)

// DefaultChargeControlPolicy selects a desired current from the demand
// table, clamps it against the active control state bounds and applies
// battery safety overrides. It holds no locks: the owning actor is the
// single writer.
type DefaultChargeControlPolicy struct {
	HysteresisWatts     float64
	ColdStartAmps       int
	MaxChargePercent    int
	MinDischargePercent int
	Logger              *zap.Logger

	levels         []domain.HomeDemandLevel
	chargeRange    domain.CurrentRange
	dischargeRange domain.CurrentRange
}

func NewDefaultChargeControlPolicy(logger *zap.Logger) *DefaultChargeControlPolicy {
	return &DefaultChargeControlPolicy{
		HysteresisWatts:     DefaultHysteresisWatts,
		ColdStartAmps:       DefaultColdStartAmps,
		MaxChargePercent:    DefaultMaxChargePercent,
		MinDischargePercent: DefaultMinDischargePercent,
		Logger:              logger,
		levels:              domain.DefaultHomeDemandLevels(),
		chargeRange:         domain.CurrentRange{Min: 3, Max: 32},
		dischargeRange:      domain.CurrentRange{Min: 3, Max: 32},
	}
}

func (p *DefaultChargeControlPolicy) SetChargeRange(r domain.CurrentRange) {
	p.chargeRange = r
}

func (p *DefaultChargeControlPolicy) SetDischargeRange(r domain.CurrentRange) {
	p.dischargeRange = r
}

func (p *DefaultChargeControlPolicy) SetDemandLevels(levels []domain.HomeDemandLevel) {
	if len(levels) > 0 {
		p.levels = levels
	}
}

func (p *DefaultChargeControlPolicy) ChargeRange() domain.CurrentRange {
	return p.chargeRange
}

func (p *DefaultChargeControlPolicy) DischargeRange() domain.CurrentRange {
	return p.dischargeRange
}

// Evaluate returns the desired current in amps, positive for charge,
// negative for discharge, zero for pause. lastTarget is the previous
// desired current and anchors the hysteresis.
func (p *DefaultChargeControlPolicy) Evaluate(state domain.ControlState, sample domain.PowerSample,
	lastTarget int, charger domain.ChargerState) int {

	var desired int

	switch state {
	case domain.ControlStateDormant, domain.ControlStatePauseUntilDisconnect:
		desired = 0
	case domain.ControlStateFreerun, domain.ControlStateRemoteProtocol:
		return charger.CurrentAmps
	case domain.ControlStateCharge:
		if charger.BatteryPercent < 0 {
			return p.ColdStartAmps
		}
		desired = p.chargeRange.Max
	case domain.ControlStateDischarge:
		desired = -p.dischargeRange.Max
	default:
		// load-follow states
		if charger.BatteryPercent < 0 && state.CanCharge() {
			// SoC not known yet, charge gently until the first
			// valid reading arrives
			return p.ColdStartAmps
		}
		home := sample.HomeWatts()
		switch {
		case state.CanDischarge() && home >= 0:
			target := p.selectTarget(home, abs(lastTarget))
			desired = -p.dischargeRange.Clamp(target)
		case state.CanCharge() && home < 0:
			target := p.selectTarget(-home, abs(lastTarget))
			desired = p.chargeRange.Clamp(target)
		default:
			desired = 0
		}
	}

	// battery safety overrides while the station is paused
	if charger.Status == quasar_modbus.StatusPaused {
		if desired > 0 && charger.BatteryFull(p.MaxChargePercent) {
			p.Logger.Debug("policy: battery full, holding pause")
			desired = 0
		}
		if desired < 0 && charger.BatteryEmpty(p.MinDischargePercent) {
			p.Logger.Debug("policy: battery empty, holding pause")
			desired = 0
		}
	}

	return desired
}

// selectTarget walks the demand table with a hysteresis window. As
// long as the reading stays inside [Min-W, Max+W) of the previous
// target's band, the previous target holds; only a clear exit picks a
// new band.
func (p *DefaultChargeControlPolicy) selectTarget(watts float64, lastTarget int) int {
	w := p.HysteresisWatts
	for _, lvl := range p.levels {
		if lvl.TargetAmps != lastTarget {
			continue
		}
		if watts >= lvl.MinWatts-w && watts < lvl.MaxWatts+w {
			return lastTarget
		}
	}
	for _, lvl := range p.levels {
		if watts >= lvl.MinWatts && watts < lvl.MaxWatts {
			return lvl.TargetAmps
		}
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ensure interface compliance
var _ port.ChargeControlPolicy = (*DefaultChargeControlPolicy)(nil)
