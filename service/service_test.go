package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testsplit/metrics"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestService(t *testing.T) {
	svc := New(Config{HealthzAddr: "127.0.0.1:0", MetricsAddr: "127.0.0.1:0"})
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Shutdown()

	status, body := get(t, fmt.Sprintf("http://%s/healthz", svc.Healthz.Addr()))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)

	metrics.RecordRunRequest("sequential")
	status, body = get(t, fmt.Sprintf("http://%s/metrics", svc.Metrics.Addr()))
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "testsplit_run_requests_total")
}

func TestService_DisabledEndpoints(t *testing.T) {
	svc := New(Config{})
	require.NoError(t, svc.Start(context.Background()))
	assert.Nil(t, svc.Healthz.Addr())
	assert.Nil(t, svc.Metrics.Addr())
	svc.Shutdown()
}

func TestService_AddressInUse(t *testing.T) {
	first := New(Config{HealthzAddr: "127.0.0.1:0"})
	require.NoError(t, first.Start(context.Background()))
	defer first.Shutdown()

	second := New(Config{HealthzAddr: first.Healthz.Addr().String()})
	require.Error(t, second.Start(context.Background()))
}

func TestHealthzCORS(t *testing.T) {
	svc := New(Config{HealthzAddr: "127.0.0.1:0"})
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Shutdown()

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s/healthz", svc.Healthz.Addr()), nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
