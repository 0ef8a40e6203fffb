package shelly

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/robynrox/evse-controller/internal/core/domain"
	"github.com/robynrox/evse-controller/internal/core/port"

	"go.uber.org/zap"
)

// AuxEMClient polls a second Shelly EM that watches the solar inverter
// and heat pump circuits. These readings are informational: they feed
// the history and telemetry, not the control loop.
type AuxEMClient struct {
	baseURL         string
	solarChannel    int
	heatPumpChannel int
	httpClient      *http.Client
	logger          *zap.Logger
}

func NewAuxEMClient(host string, solarChannel, heatPumpChannel int, timeout time.Duration, logger *zap.Logger) *AuxEMClient {
	return &AuxEMClient{
		baseURL:         fmt.Sprintf("http://%s", host),
		solarChannel:    solarChannel,
		heatPumpChannel: heatPumpChannel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With(zap.String("monitor", host)),
	}
}

// SampleAux reads /status and extracts the solar and heat pump powers.
func (c *AuxEMClient) SampleAux(ctx context.Context) (*domain.AuxPowerSample, error) {
	status, err := fetchStatus(ctx, c.httpClient, c.baseURL)
	if err != nil {
		return nil, err
	}
	maxCh := c.solarChannel
	if c.heatPumpChannel > maxCh {
		maxCh = c.heatPumpChannel
	}
	if len(status.EMeters) <= maxCh {
		return nil, fmt.Errorf("shelly: expected at least %d emeters, got %d", maxCh+1, len(status.EMeters))
	}
	return &domain.AuxPowerSample{
		SolarWatts:    status.EMeters[c.solarChannel].Power,
		HeatPumpWatts: status.EMeters[c.heatPumpChannel].Power,
		UnixTime:      status.UnixTime,
	}, nil
}

// ensure interface compliance
var _ port.AuxPowerMonitor = (*AuxEMClient)(nil)
