package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ardnew/softftdi/device/class/ftdi"
	"github.com/ardnew/softftdi/internal/metrics"
	"github.com/ardnew/softftdi/pkg"
)

// statusSource is the part of ftdi.Emulator reported on /status.
type statusSource interface {
	IsConfigured() bool
	Status() ftdi.Status
	ControlLines() ftdi.ControlLines
	RxLen() int
	TxLen() int
}

type statusReport struct {
	Configured bool             `json:"configured"`
	Status     string           `json:"status"`
	Modem      modemReport      `json:"modem"`
	DTR        bool             `json:"dtr"`
	RTS        bool             `json:"rts"`
	RxQueued   int              `json:"rx_queued"`
	TxQueued   int              `json:"tx_queued"`
	Counters   metrics.Snapshot `json:"counters"`
}

type modemReport struct {
	CTS  bool `json:"cts"`
	DSR  bool `json:"dsr"`
	RI   bool `json:"ri"`
	DCD  bool `json:"dcd"`
	THRE bool `json:"thre"`
	TEMT bool `json:"temt"`
}

func newReport(src statusSource, m *metrics.Metrics) statusReport {
	status := src.Status()
	lines := src.ControlLines()
	return statusReport{
		Configured: src.IsConfigured(),
		Status:     status.String(),
		Modem: modemReport{
			CTS:  status.CTS,
			DSR:  status.DSR,
			RI:   status.RI,
			DCD:  status.DCD,
			THRE: status.THRE,
			TEMT: status.TEMT,
		},
		DTR:      lines.DTR,
		RTS:      lines.RTS,
		RxQueued: src.RxLen(),
		TxQueued: src.TxLen(),
		Counters: m.Snap(),
	}
}

func newRouter(m *metrics.Metrics, src statusSource) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if m.IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(newReport(src, m)); err != nil {
			pkg.LogDebug(pkg.ComponentCLI, "status write failed", "error", err)
		}
	}).Methods(http.MethodGet)
	return r
}

// startHTTP binds addr and serves the router in the background.
func startHTTP(addr string, m *metrics.Metrics, src statusSource) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("http listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           newRouter(m, src),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		pkg.LogInfo(pkg.ComponentCLI, "http listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pkg.LogError(pkg.ComponentCLI, "http server failed", "error", err)
		}
	}()
	return srv, nil
}

func closeHTTP(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
