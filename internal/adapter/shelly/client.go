package shelly

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/robynrox/evse-controller/internal/core/domain"
	"github.com/robynrox/evse-controller/internal/core/port"

	"go.uber.org/zap"
)

// EMClient polls a Shelly EM two-channel energy monitor over its local
// HTTP API. Channel assignment (which clamp measures the grid, which
// the EVSE circuit) is configurable.
type EMClient struct {
	baseURL     string
	gridChannel int
	evseChannel int
	httpClient  *http.Client
	logger      *zap.Logger
}

type emeterStatus struct {
	Power       float64 `json:"power"`
	PowerFactor float64 `json:"pf"`
	Voltage     float64 `json:"voltage"`
	Valid       bool    `json:"is_valid"`
}

type statusResponse struct {
	EMeters  []emeterStatus `json:"emeters"`
	UnixTime int64          `json:"unixtime"`
}

func NewEMClient(host string, gridChannel, evseChannel int, timeout time.Duration, logger *zap.Logger) *EMClient {
	return &EMClient{
		baseURL:     fmt.Sprintf("http://%s", host),
		gridChannel: gridChannel,
		evseChannel: evseChannel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With(zap.String("monitor", host)),
	}
}

// Sample reads /status and converts it to a power sample. Energy
// accumulators are integrated from the previous sample: the meter's
// own counters only update half-hourly, far too coarse for the
// control loop.
func (c *EMClient) Sample(ctx context.Context, prev *domain.PowerSample) (*domain.PowerSample, error) {
	status, err := c.getStatus(ctx)
	if err != nil {
		return nil, err
	}
	maxCh := c.gridChannel
	if c.evseChannel > maxCh {
		maxCh = c.evseChannel
	}
	if len(status.EMeters) <= maxCh {
		return nil, fmt.Errorf("shelly: expected at least %d emeters, got %d", maxCh+1, len(status.EMeters))
	}

	grid := status.EMeters[c.gridChannel]
	evse := status.EMeters[c.evseChannel]

	sample := &domain.PowerSample{
		GridWatts:       grid.Power,
		EvseWatts:       evse.Power,
		GridPowerFactor: grid.PowerFactor,
		EvsePowerFactor: evse.PowerFactor,
		VoltageVolts:    grid.Voltage,
		UnixTime:        status.UnixTime,
		BatteryPercent:  domain.BatterySoCUnknown,
	}

	if prev != nil {
		integrate(sample, prev)
	}
	return sample, nil
}

func (c *EMClient) getStatus(ctx context.Context) (*statusResponse, error) {
	return fetchStatus(ctx, c.httpClient, c.baseURL)
}

func fetchStatus(ctx context.Context, httpClient *http.Client, baseURL string) (*statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("shelly: status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var status statusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// integrate advances the cumulative energy counters by power * dt for
// the interval between two samples. Clock steps on the meter produce a
// non-positive dt and are skipped.
func integrate(sample, prev *domain.PowerSample) {
	dt := float64(sample.UnixTime - prev.UnixTime)
	if dt <= 0 {
		sample.GridImportedJoules = prev.GridImportedJoules
		sample.GridExportedJoules = prev.GridExportedJoules
		sample.EvseImportedJoules = prev.EvseImportedJoules
		sample.EvseExportedJoules = prev.EvseExportedJoules
		return
	}
	sample.GridImportedJoules = prev.GridImportedJoules
	sample.GridExportedJoules = prev.GridExportedJoules
	sample.EvseImportedJoules = prev.EvseImportedJoules
	sample.EvseExportedJoules = prev.EvseExportedJoules

	if sample.GridWatts >= 0 {
		sample.GridImportedJoules += sample.GridWatts * dt
	} else {
		sample.GridExportedJoules += -sample.GridWatts * dt
	}
	if sample.EvseWatts >= 0 {
		sample.EvseImportedJoules += sample.EvseWatts * dt
	} else {
		sample.EvseExportedJoules += -sample.EvseWatts * dt
	}
}

// ensure interface compliance
var _ port.PowerMonitor = (*EMClient)(nil)
