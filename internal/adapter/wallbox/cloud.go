package wallbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/robynrox/evse-controller/internal/core/domain"
	"github.com/robynrox/evse-controller/internal/core/port"

	"go.uber.org/zap"
)

const (
	DefaultAPIBaseURL = "https://api.wall-box.com"

	configCacheTTL = 5 * time.Minute
	tokenCacheTTL  = 10 * time.Minute

	remoteActionRestart = 3

	ocppTypeEnabled  = "ocpp"
	ocppTypeDisabled = "wallbox"
)

// CloudAPIClient drives the small slice of the vendor cloud API the
// controller needs: charger restart and the OCPP configuration toggle.
// OCPP configuration reads are cached for five minutes; the cloud rate
// limits aggressively.
type CloudAPIClient struct {
	baseURL    string
	username   string
	password   string
	serial     string
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	token       string
	tokenUntil  time.Time
	config      *ocppConfiguration
	configUntil time.Time

	now func() time.Time
}

type ocppConfiguration struct {
	Type                string `json:"type"`
	Address             string `json:"address"`
	ChargePointIdentity string `json:"chargePointIdentity"`
	Password            string `json:"password"`
}

type authResponse struct {
	JWT string `json:"jwt"`
}

func NewCloudAPIClient(baseURL, username, password, serial string, logger *zap.Logger) *CloudAPIClient {
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	return &CloudAPIClient{
		baseURL:  baseURL,
		username: username,
		password: password,
		serial:   serial,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.With(zap.String("target", "wallbox_cloud")),
		now:    time.Now,
	}
}

// HasCredentials reports whether the client can make calls at all.
// Without credentials the remote protocol is treated as permanently
// disabled and no network calls are made.
func (c *CloudAPIClient) HasCredentials() bool {
	return c.username != "" && c.password != "" && c.serial != ""
}

func (c *CloudAPIClient) RestartCharger(ctx context.Context) error {
	if !c.HasCredentials() {
		return fmt.Errorf("wallbox cloud: no credentials configured")
	}
	c.logger.Warn("requesting charger restart", zap.String("serial", c.serial))
	body := map[string]int{"action": remoteActionRestart}
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/v3/chargers/%s/remote-action", c.serial), body, nil)
}

func (c *CloudAPIClient) GetRemoteProtocolState(ctx context.Context) (*domain.RemoteProtocolState, error) {
	cfg, err := c.getConfiguration(ctx, false)
	if err != nil {
		return nil, err
	}
	return toRemoteProtocolState(cfg), nil
}

func (c *CloudAPIClient) SetRemoteProtocolEnabled(ctx context.Context, enable bool) (*domain.RemoteProtocolState, error) {
	cfg, err := c.getConfiguration(ctx, false)
	if err != nil {
		return nil, err
	}
	next := *cfg
	if enable {
		next.Type = ocppTypeEnabled
	} else {
		next.Type = ocppTypeDisabled
	}
	c.logger.Info("posting ocpp configuration",
		zap.String("type", next.Type),
		zap.String("address", next.Address),
		zap.String("chargePointIdentity", Redacted),
		zap.String("password", Redacted))
	err = c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/v3/chargers/%s/ocpp-configuration", c.serial), next, nil)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.config = &next
	c.configUntil = c.now().Add(configCacheTTL)
	c.mu.Unlock()
	return toRemoteProtocolState(&next), nil
}

func (c *CloudAPIClient) getConfiguration(ctx context.Context, bypassCache bool) (*ocppConfiguration, error) {
	if !c.HasCredentials() {
		return nil, fmt.Errorf("wallbox cloud: no credentials configured")
	}
	c.mu.Lock()
	if !bypassCache && c.config != nil && c.now().Before(c.configUntil) {
		cfg := *c.config
		c.mu.Unlock()
		return &cfg, nil
	}
	c.mu.Unlock()

	var cfg ocppConfiguration
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v3/chargers/%s/ocpp-configuration", c.serial), nil, &cfg)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.config = &cfg
	c.configUntil = c.now().Add(configCacheTTL)
	c.mu.Unlock()
	return &cfg, nil
}

func (c *CloudAPIClient) authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.tokenUntil) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/token/user", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.username, c.password)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wallbox cloud: auth failed with status %s", resp.Status)
	}
	var auth authResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&auth); err != nil {
		return "", err
	}
	if auth.JWT == "" {
		return "", fmt.Errorf("wallbox cloud: auth response carried no token")
	}
	c.mu.Lock()
	c.token = auth.JWT
	c.tokenUntil = c.now().Add(tokenCacheTTL)
	c.mu.Unlock()
	return auth.JWT, nil
}

func (c *CloudAPIClient) doJSON(ctx context.Context, method, path string, body any, out any) error {
	token, err := c.authenticate(ctx)
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("wallbox cloud: 429 rate limited")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("wallbox cloud: %s %s failed with status %s", method, path, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
			return err
		}
	}
	return nil
}

func toRemoteProtocolState(cfg *ocppConfiguration) *domain.RemoteProtocolState {
	return &domain.RemoteProtocolState{
		Enabled:             cfg.Type == ocppTypeEnabled,
		Address:             cfg.Address,
		ChargePointIdentity: cfg.ChargePointIdentity,
	}
}

// ensure interface compliance
var _ port.CloudAPI = (*CloudAPIClient)(nil)
