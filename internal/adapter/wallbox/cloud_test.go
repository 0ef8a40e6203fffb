package wallbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCloud struct {
	authCalls   atomic.Int32
	getCalls    atomic.Int32
	postCalls   atomic.Int32
	restarts    atomic.Int32
	currentType string
}

func newFakeCloud(t *testing.T) (*fakeCloud, *httptest.Server) {
	t.Helper()
	fake := &fakeCloud{currentType: "wallbox"}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token/user", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user@example.net" || pass != "hunter2" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		fake.authCalls.Add(1)
		fmt.Fprint(w, `{"jwt": "test-token"}`)
	})
	mux.HandleFunc("/v3/chargers/SN123/ocpp-configuration", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			fake.getCalls.Add(1)
			fmt.Fprintf(w, `{"type": %q, "address": "ws://ocpp.example.net", "chargePointIdentity": "cp-1", "password": "secret"}`, fake.currentType)
		case http.MethodPost:
			fake.postCalls.Add(1)
			var cfg map[string]string
			if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			fake.currentType = cfg["type"]
			w.WriteHeader(http.StatusOK)
		}
	})
	mux.HandleFunc("/v3/chargers/SN123/remote-action", func(w http.ResponseWriter, r *http.Request) {
		fake.restarts.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	return fake, httptest.NewServer(mux)
}

func testClient(srv *httptest.Server) *CloudAPIClient {
	return NewCloudAPIClient(srv.URL, "user@example.net", "hunter2", "SN123", zap.Must(zap.NewDevelopment()))
}

func TestGetRemoteProtocolState(t *testing.T) {
	require := require.New(t)
	fake, srv := newFakeCloud(t)
	defer srv.Close()

	client := testClient(srv)
	state, err := client.GetRemoteProtocolState(context.Background())
	require.NoError(err)
	require.False(state.Enabled)
	require.Equal("ws://ocpp.example.net", state.Address)
	require.EqualValues(1, fake.authCalls.Load())
	require.EqualValues(1, fake.getCalls.Load())
}

func TestGetRemoteProtocolStateUsesCache(t *testing.T) {
	require := require.New(t)
	fake, srv := newFakeCloud(t)
	defer srv.Close()

	client := testClient(srv)
	_, err := client.GetRemoteProtocolState(context.Background())
	require.NoError(err)
	_, err = client.GetRemoteProtocolState(context.Background())
	require.NoError(err)
	require.EqualValues(1, fake.getCalls.Load(), "second read must hit the cache")

	// cache expires after the TTL
	client.now = func() time.Time { return time.Now().Add(configCacheTTL + time.Second) }
	_, err = client.GetRemoteProtocolState(context.Background())
	require.NoError(err)
	require.EqualValues(2, fake.getCalls.Load())
}

func TestSetRemoteProtocolEnabledFlipsType(t *testing.T) {
	require := require.New(t)
	fake, srv := newFakeCloud(t)
	defer srv.Close()

	client := testClient(srv)
	state, err := client.SetRemoteProtocolEnabled(context.Background(), true)
	require.NoError(err)
	require.True(state.Enabled)
	require.Equal("ocpp", fake.currentType)
	require.EqualValues(1, fake.postCalls.Load())

	// the POST result updates the cache, so a read makes no call
	state, err = client.GetRemoteProtocolState(context.Background())
	require.NoError(err)
	require.True(state.Enabled)
	require.EqualValues(1, fake.getCalls.Load())

	state, err = client.SetRemoteProtocolEnabled(context.Background(), false)
	require.NoError(err)
	require.False(state.Enabled)
	require.Equal("wallbox", fake.currentType)
}

func TestRestartCharger(t *testing.T) {
	require := require.New(t)
	fake, srv := newFakeCloud(t)
	defer srv.Close()

	client := testClient(srv)
	require.NoError(client.RestartCharger(context.Background()))
	require.EqualValues(1, fake.restarts.Load())
}

func TestMissingCredentials(t *testing.T) {
	require := require.New(t)

	client := NewCloudAPIClient("http://localhost:1", "", "", "", zap.NewNop())
	require.False(client.HasCredentials())

	_, err := client.GetRemoteProtocolState(context.Background())
	require.Error(err)
	require.Error(client.RestartCharger(context.Background()))
}

func TestRateLimitErrorText(t *testing.T) {
	require := require.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token/user" {
			fmt.Fprint(w, `{"jwt": "test-token"}`)
			return
		}
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := testClient(srv)
	_, err := client.GetRemoteProtocolState(context.Background())
	require.Error(err)
	require.Contains(err.Error(), "429")
}
