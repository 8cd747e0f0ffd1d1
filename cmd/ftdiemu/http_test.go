package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softftdi/device/class/ftdi"
	"github.com/ardnew/softftdi/internal/metrics"
)

func newTestRouter(t *testing.T) (http.Handler, *ftdi.Emulator, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	emu, err := ftdi.New(ftdi.Config{Observer: m})
	require.NoError(t, err)
	m.WatchQueues(emu)
	m.SetReadiness(emu.IsConfigured)
	return newRouter(m, emu), emu, m
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	h, emu, _ := newTestRouter(t)
	_, err := emu.Serial().Write([]byte("queued"))
	require.NoError(t, err)

	rec := get(h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report statusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.False(t, report.Configured)
	assert.Equal(t, "B1 60", report.Status)
	assert.True(t, report.Modem.CTS)
	assert.True(t, report.Modem.DSR)
	assert.True(t, report.Modem.DCD)
	assert.False(t, report.Modem.RI)
	assert.False(t, report.DTR)
	assert.Equal(t, 6, report.TxQueued)
	assert.Zero(t, report.RxQueued)
}

func TestReadyEndpoint(t *testing.T) {
	h, _, _ := newTestRouter(t)
	rec := get(h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not ready\n", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, m := newTestRouter(t)
	m.Request("poll_modem_status", true)

	rec := get(h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ftdi_control_requests_total{outcome="accepted",request="poll_modem_status"} 1`)
	assert.Contains(t, rec.Body.String(), "ftdi_tx_queue_bytes 0")
}

func TestRouterRejectsOtherMethods(t *testing.T) {
	h, _, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	assert.Equal(t, http.StatusNotFound, get(h, "/nope").Code)
}
