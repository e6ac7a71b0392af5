package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct{ snap Snapshot }

func (f fakeProvider) Stats() Snapshot { return f.snap }

func TestAdminHealthz(t *testing.T) {
	provider := fakeProvider{snap: Snapshot{Role: "master"}}
	s := New("127.0.0.1:0", provider, prometheus.NewRegistry(), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestAdminStats(t *testing.T) {
	provider := fakeProvider{snap: Snapshot{Role: "master", Host: "localhost", Port: 8888, SlaveCount: 2}}
	s := New("127.0.0.1:0", provider, prometheus.NewRegistry(), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rr := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rr, req)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, "master", snap.Role)
	assert.Equal(t, 2, snap.SlaveCount)
}

func TestAdminMetricsEndpointRegistered(t *testing.T) {
	provider := fakeProvider{}
	s := New("127.0.0.1:0", provider, prometheus.NewRegistry(), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}
