package service

import (
	"testing"

	"github.com/robynrox/evse-controller/internal/core/domain"
	"github.com/robynrox/evse-controller/pkg/quasar_modbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testPolicy() *DefaultChargeControlPolicy {
	return NewDefaultChargeControlPolicy(zap.Must(zap.NewDevelopment()))
}

func sample(gridWatts float64) domain.PowerSample {
	return domain.PowerSample{
		GridWatts:    gridWatts,
		VoltageVolts: 230,
	}
}

func chargerAt(status quasar_modbus.ChargerStatus, amps, soc int) domain.ChargerState {
	return domain.ChargerState{
		Status:         status,
		CurrentAmps:    amps,
		BatteryPercent: soc,
	}
}

func TestDemandTableBasicSelection(t *testing.T) {
	assert := assert.New(t)
	p := testPolicy()
	charger := chargerAt(quasar_modbus.StatusCharging, 0, 50)

	// home demand below the dead band keeps the EVSE off
	d := p.Evaluate(domain.ControlStateLoadFollowDischarge, sample(500), 0, charger)
	assert.Equal(0, d)

	// 1000 W falls in the 4 A band
	d = p.Evaluate(domain.ControlStateLoadFollowDischarge, sample(1000), 0, charger)
	assert.Equal(-4, d)

	// saturated top band
	d = p.Evaluate(domain.ControlStateLoadFollowDischarge, sample(12000), 0, charger)
	assert.Equal(-32, d)
}

func TestHysteresisStability(t *testing.T) {
	require := require.New(t)
	p := testPolicy()
	charger := chargerAt(quasar_modbus.StatusDischarging, -4, 50)

	// 960 W is the 3 A / 4 A band boundary. Once settled in the 3 A
	// band, readings oscillating across the boundary within the
	// hysteresis window must never flip the target.
	last := p.Evaluate(domain.ControlStateLoadFollowDischarge, sample(955), 0, charger)
	require.Equal(-3, last)

	readings := []float64{945, 990, 955, 1005, 948, 1008}
	for _, w := range readings {
		d := p.Evaluate(domain.ControlStateLoadFollowDischarge, sample(w), last, charger)
		require.Equal(last, d, "target flipped at %.0f W", w)
		last = d
	}

	// leaving the widened band by more than the window does flip
	d := p.Evaluate(domain.ControlStateLoadFollowDischarge, sample(1050), last, charger)
	require.Equal(-4, d)
}

func TestHysteresisReleasesAfterClearExit(t *testing.T) {
	assert := assert.New(t)
	p := testPolicy()
	charger := chargerAt(quasar_modbus.StatusDischarging, -5, 50)

	// previous target 5 A, demand drops well below the 5 A band
	d := p.Evaluate(domain.ControlStateLoadFollowDischarge, sample(800), -5, charger)
	assert.Equal(-3, d)
}

func TestLoadFollowChargeUsesExportSurplus(t *testing.T) {
	assert := assert.New(t)
	p := testPolicy()
	charger := chargerAt(quasar_modbus.StatusPaused, 0, 50)

	// 1500 W export surplus lands in the 6 A band
	d := p.Evaluate(domain.ControlStateLoadFollowCharge, sample(-1500), 0, charger)
	assert.Equal(6, d)

	// grid import means no surplus to charge from
	d = p.Evaluate(domain.ControlStateLoadFollowCharge, sample(1500), 0, charger)
	assert.Equal(0, d)
}

func TestBidirectionalFollowsSign(t *testing.T) {
	assert := assert.New(t)
	p := testPolicy()
	charger := chargerAt(quasar_modbus.StatusPaused, 0, 50)

	d := p.Evaluate(domain.ControlStateLoadFollowBidirectional, sample(1000), 0, charger)
	assert.Equal(-4, d)

	d = p.Evaluate(domain.ControlStateLoadFollowBidirectional, sample(-1000), 0, charger)
	assert.Equal(4, d)
}

func TestRangeClamp(t *testing.T) {
	assert := assert.New(t)
	p := testPolicy()
	p.SetDischargeRange(domain.CurrentRange{Min: 6, Max: 16})
	charger := chargerAt(quasar_modbus.StatusDischarging, 0, 50)

	// below range minimum collapses to zero
	d := p.Evaluate(domain.ControlStateLoadFollowDischarge, sample(1000), 0, charger)
	assert.Equal(0, d)

	// above range maximum saturates
	d = p.Evaluate(domain.ControlStateLoadFollowDischarge, sample(12000), 0, charger)
	assert.Equal(-16, d)
}

func TestFixedStates(t *testing.T) {
	assert := assert.New(t)
	p := testPolicy()
	charger := chargerAt(quasar_modbus.StatusPaused, 0, 50)

	assert.Equal(32, p.Evaluate(domain.ControlStateCharge, sample(0), 0, charger))
	assert.Equal(-32, p.Evaluate(domain.ControlStateDischarge, sample(0), 0, charger))
	assert.Equal(0, p.Evaluate(domain.ControlStateDormant, sample(5000), 0, charger))
	assert.Equal(0, p.Evaluate(domain.ControlStatePauseUntilDisconnect, sample(5000), 0, charger))
}

func TestColdStartChargesGently(t *testing.T) {
	assert := assert.New(t)
	p := testPolicy()
	unknown := chargerAt(quasar_modbus.StatusPaused, 0, domain.BatterySoCUnknown)

	// SoC unknown: charging-capable states pick the fixed gentle rate
	assert.Equal(3, p.Evaluate(domain.ControlStateLoadFollowCharge, sample(-5000), 0, unknown))
	assert.Equal(3, p.Evaluate(domain.ControlStateCharge, sample(0), 0, unknown))
	assert.Equal(3, p.Evaluate(domain.ControlStateLoadFollowBidirectional, sample(-5000), 0, unknown))

	// once SoC is known the demand table takes over
	known := chargerAt(quasar_modbus.StatusPaused, 0, 42)
	assert.Equal(20, p.Evaluate(domain.ControlStateLoadFollowCharge, sample(-5000), 0, known))
}

func TestFullBatteryHoldsPause(t *testing.T) {
	assert := assert.New(t)
	p := testPolicy()

	full := chargerAt(quasar_modbus.StatusPaused, 0, 98)
	assert.Equal(0, p.Evaluate(domain.ControlStateLoadFollowCharge, sample(-5000), 0, full))
	assert.Equal(0, p.Evaluate(domain.ControlStateCharge, sample(0), 0, full))

	// a full battery may still discharge
	assert.Equal(-20, p.Evaluate(domain.ControlStateLoadFollowDischarge, sample(5000), 0, full))

	// override only applies while the station is paused
	charging := chargerAt(quasar_modbus.StatusCharging, 6, 98)
	assert.Equal(20, p.Evaluate(domain.ControlStateLoadFollowCharge, sample(-5000), 0, charging))
}

func TestEmptyBatteryHoldsPause(t *testing.T) {
	assert := assert.New(t)
	p := testPolicy()

	empty := chargerAt(quasar_modbus.StatusPaused, 0, 4)
	assert.Equal(0, p.Evaluate(domain.ControlStateLoadFollowDischarge, sample(5000), 0, empty))

	// an empty battery may still charge
	assert.Equal(20, p.Evaluate(domain.ControlStateLoadFollowCharge, sample(-5000), 0, empty))
}

func TestUncontrolledStatesLeaveCurrentAlone(t *testing.T) {
	assert := assert.New(t)
	p := testPolicy()
	charger := chargerAt(quasar_modbus.StatusCharging, 16, 50)

	assert.Equal(16, p.Evaluate(domain.ControlStateFreerun, sample(5000), 0, charger))
	assert.Equal(16, p.Evaluate(domain.ControlStateRemoteProtocol, sample(5000), 0, charger))
}
