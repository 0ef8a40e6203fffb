package wallbox

import (
	"context"
	"errors"
	"sync"

	"github.com/robynrox/evse-controller/internal/core/domain"
	"github.com/robynrox/evse-controller/internal/core/port"
)

// TestCloudAPI is an in-memory stand-in for the vendor cloud API.
type TestCloudAPI struct {
	mu sync.Mutex

	State domain.RemoteProtocolState

	// when > 0, every call fails and the counter decrements
	FailNextCalls int
	// when set, injected failures carry this error
	FailWith error

	RestartCalls  int
	GetStateCalls int
	SetCalls      []bool
}

func NewTestCloudAPI() *TestCloudAPI {
	return &TestCloudAPI{
		State: domain.RemoteProtocolState{
			Enabled:             false,
			Address:             "ws://ocpp.example.net:9000",
			ChargePointIdentity: "quasar-1",
		},
	}
}

func (c *TestCloudAPI) failure() error {
	if c.FailNextCalls > 0 {
		c.FailNextCalls--
		if c.FailWith != nil {
			return c.FailWith
		}
		return errors.New("simulated cloud failure")
	}
	return nil
}

func (c *TestCloudAPI) RestartCharger(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure(); err != nil {
		return err
	}
	c.RestartCalls++
	return nil
}

func (c *TestCloudAPI) GetRemoteProtocolState(ctx context.Context) (*domain.RemoteProtocolState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure(); err != nil {
		return nil, err
	}
	c.GetStateCalls++
	state := c.State
	return &state, nil
}

func (c *TestCloudAPI) SetRemoteProtocolEnabled(ctx context.Context, enable bool) (*domain.RemoteProtocolState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure(); err != nil {
		return nil, err
	}
	c.SetCalls = append(c.SetCalls, enable)
	c.State.Enabled = enable
	state := c.State
	return &state, nil
}

// Restarts returns the restart call count.
func (c *TestCloudAPI) Restarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.RestartCalls
}

// Sets returns a copy of the toggle call log.
func (c *TestCloudAPI) Sets() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.SetCalls...)
}

// Fail arms the fake to fail the next n calls.
func (c *TestCloudAPI) Fail(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FailNextCalls = n
	c.FailWith = err
}

// ensure interface compliance
var _ port.CloudAPI = (*TestCloudAPI)(nil)
