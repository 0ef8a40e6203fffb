package shelly

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/robynrox/evse-controller/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const statusBody = `{
	"emeters": [
		{"power": 1234.5, "pf": 0.98, "voltage": 232.1, "is_valid": true},
		{"power": -3680.0, "pf": 0.99, "voltage": 231.8, "is_valid": true}
	],
	"unixtime": %d
}`

func testServer(t *testing.T, unixtime int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, statusBody, unixtime)
	}))
}

func clientFor(srv *httptest.Server) *EMClient {
	host := strings.TrimPrefix(srv.URL, "http://")
	return NewEMClient(host, 0, 1, 2*time.Second, zap.Must(zap.NewDevelopment()))
}

func TestSampleParsesChannels(t *testing.T) {
	require := require.New(t)
	srv := testServer(t, 1_700_000_000)
	defer srv.Close()

	sample, err := clientFor(srv).Sample(context.Background(), nil)
	require.NoError(err)

	require.InDelta(1234.5, sample.GridWatts, 1e-9)
	require.InDelta(-3680.0, sample.EvseWatts, 1e-9)
	require.InDelta(232.1, sample.VoltageVolts, 1e-9)
	require.EqualValues(1_700_000_000, sample.UnixTime)
	require.InDelta(1234.5-(-3680.0), sample.HomeWatts(), 1e-9)
}

func TestSampleIntegratesEnergy(t *testing.T) {
	require := require.New(t)
	srv := testServer(t, 1_700_000_010)
	defer srv.Close()

	prev := prevSample()
	sample, err := clientFor(srv).Sample(context.Background(), prev)
	require.NoError(err)

	// 10 s at 1234.5 W imported on the grid channel
	require.InDelta(12345.0, sample.GridImportedJoules, 1e-6)
	require.InDelta(0.0, sample.GridExportedJoules, 1e-6)
	// the EVSE channel is discharging, so it accumulates export
	require.InDelta(36800.0, sample.EvseExportedJoules, 1e-6)
}

func TestSampleSkipsIntegrationOnClockStep(t *testing.T) {
	require := require.New(t)
	srv := testServer(t, 1_700_000_000)
	defer srv.Close()

	prev := prevSample()
	prev.UnixTime = 1_700_000_050
	prev.GridImportedJoules = 500

	sample, err := clientFor(srv).Sample(context.Background(), prev)
	require.NoError(err)
	require.InDelta(500.0, sample.GridImportedJoules, 1e-9)
}

func TestSampleRejectsShortEmeterList(t *testing.T) {
	assert := assert.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"emeters": [{"power": 1}], "unixtime": 1}`)
	}))
	defer srv.Close()

	_, err := clientFor(srv).Sample(context.Background(), nil)
	assert.Error(err)
}

func TestSampleHTTPError(t *testing.T) {
	assert := assert.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := clientFor(srv).Sample(context.Background(), nil)
	assert.Error(err)
}

func prevSample() *domain.PowerSample {
	return &domain.PowerSample{
		UnixTime: 1_700_000_000,
	}
}
